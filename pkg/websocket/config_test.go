package websocket

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	c := newConfig(nil)
	if c.RecvTimeout != 0 || c.SendTimeout != 0 {
		t.Errorf("default RecvTimeout/SendTimeout = %v/%v, want 0/0 (unbounded)", c.RecvTimeout, c.SendTimeout)
	}
	if c.ReadBurst != defaultReadBurst || c.WriteBurst != defaultWriteBurst {
		t.Errorf("default ReadBurst/WriteBurst = %d/%d, want %d/%d", c.ReadBurst, c.WriteBurst, defaultReadBurst, defaultWriteBurst)
	}
}

func TestWithTimeoutsSetsRecvAndSend(t *testing.T) {
	c := newConfig([]Option{WithTimeouts(0, 0)})
	if c.RecvTimeout != 0 || c.SendTimeout != 0 {
		t.Fatalf("WithTimeouts(0, 0) = %v/%v, want 0/0", c.RecvTimeout, c.SendTimeout)
	}

	c = newConfig([]Option{WithTimeouts(5, 7)})
	if c.RecvTimeout != 5 || c.SendTimeout != 7 {
		t.Errorf("WithTimeouts(5, 7) = %v/%v, want 5/7", c.RecvTimeout, c.SendTimeout)
	}
}

func TestWithRateLimitSetsIndependentBursts(t *testing.T) {
	c := newConfig([]Option{WithRateLimit(100, 10, 200, 20)})
	if c.ReadBytesPerSec != 100 || c.ReadBurst != 10 {
		t.Errorf("read rate/burst = %d/%d, want 100/10", c.ReadBytesPerSec, c.ReadBurst)
	}
	if c.WriteBytesPerSec != 200 || c.WriteBurst != 20 {
		t.Errorf("write rate/burst = %d/%d, want 200/20", c.WriteBytesPerSec, c.WriteBurst)
	}
}
