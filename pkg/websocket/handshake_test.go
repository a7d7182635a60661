package websocket

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
)

// TestAcceptKeyRFC6455Example reproduces the worked example from
// https://datatracker.ietf.org/doc/html/rfc6455#section-1.3.
func TestAcceptKeyRFC6455Example(t *testing.T) {
	got, err := acceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if err != nil {
		t.Fatalf("acceptKey() error = %v", err)
	}
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("acceptKey() = %q, want %q", got, want)
	}
}

func TestContainsToken(t *testing.T) {
	tests := []struct {
		value, token string
		want         bool
	}{
		{"Upgrade", "upgrade", true},
		{"keep-alive, Upgrade", "upgrade", true},
		{"Upgrade", "websocket", false},
		{"", "upgrade", false},
	}
	for _, tc := range tests {
		if got := containsToken(tc.value, tc.token); got != tc.want {
			t.Errorf("containsToken(%q, %q) = %v, want %v", tc.value, tc.token, got, tc.want)
		}
	}
}

// pipeHandshake runs performHandshake against one end of a net.Pipe,
// while respond runs against the other end, acting as the server. It
// returns whatever performHandshake returned.
func pipeHandshake(t *testing.T, cfg *Config, respond func(t *testing.T, serverSide net.Conn, req *http.Request)) (handshakeResult, error) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := http.ReadRequest(bufio.NewReader(serverSide))
		if err != nil {
			return
		}
		respond(t, serverSide, req)
	}()

	rw := bufio.NewReadWriter(bufio.NewReader(clientSide), bufio.NewWriter(clientSide))
	result, err := performHandshake(rw, "example.com", "/ws", cfg)
	<-done
	return result, err
}

func writeUpgradeResponse(conn net.Conn, key string, extra map[string]string) {
	accept, _ := acceptKey(key)
	fmt.Fprint(conn, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprint(conn, "Upgrade: websocket\r\n")
	fmt.Fprint(conn, "Connection: Upgrade\r\n")
	fmt.Fprintf(conn, "Sec-WebSocket-Accept: %s\r\n", accept)
	for k, v := range extra {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	fmt.Fprint(conn, "\r\n")
}

func TestPerformHandshakeSuccess(t *testing.T) {
	cfg := newConfig(nil)
	_, err := pipeHandshake(t, cfg, func(t *testing.T, conn net.Conn, req *http.Request) {
		if req.Method != "GET" {
			t.Errorf("request method = %q, want GET", req.Method)
		}
		if req.Header.Get("Sec-WebSocket-Version") != "13" {
			t.Errorf("Sec-WebSocket-Version = %q, want 13", req.Header.Get("Sec-WebSocket-Version"))
		}
		key := req.Header.Get("Sec-WebSocket-Key")
		if key == "" {
			t.Fatal("request is missing Sec-WebSocket-Key")
		}
		writeUpgradeResponse(conn, key, nil)
	})
	if err != nil {
		t.Fatalf("performHandshake() error = %v", err)
	}
}

func TestPerformHandshakeSubprotocolNegotiation(t *testing.T) {
	cfg := newConfig([]Option{WithSubprotocols("chat.v1", "chat.v2")})
	result, err := pipeHandshake(t, cfg, func(t *testing.T, conn net.Conn, req *http.Request) {
		offered := req.Header.Get("Sec-WebSocket-Protocol")
		if !strings.Contains(offered, "chat.v2") {
			t.Errorf("Sec-WebSocket-Protocol = %q, want it to include chat.v2", offered)
		}
		key := req.Header.Get("Sec-WebSocket-Key")
		writeUpgradeResponse(conn, key, map[string]string{"Sec-WebSocket-Protocol": "chat.v2"})
	})
	if err != nil {
		t.Fatalf("performHandshake() error = %v", err)
	}
	if result.subprotocol != "chat.v2" {
		t.Errorf("negotiated subprotocol = %q, want chat.v2", result.subprotocol)
	}
}

func TestPerformHandshakeRejectsUnofferedSubprotocol(t *testing.T) {
	cfg := newConfig([]Option{WithSubprotocols("chat.v1")})
	_, err := pipeHandshake(t, cfg, func(t *testing.T, conn net.Conn, req *http.Request) {
		key := req.Header.Get("Sec-WebSocket-Key")
		writeUpgradeResponse(conn, key, map[string]string{"Sec-WebSocket-Protocol": "chat.v9"})
	})
	if err == nil {
		t.Fatal("performHandshake() = nil error, want error for unoffered subprotocol")
	}
}

// TestPerformHandshakeRejectsMissingSubprotocolHeader covers the case
// where subprotocols were offered but the server's 101 response omits
// Sec-WebSocket-Protocol entirely: that must fail the handshake rather
// than silently succeed with no subprotocol negotiated.
func TestPerformHandshakeRejectsMissingSubprotocolHeader(t *testing.T) {
	cfg := newConfig([]Option{WithSubprotocols("chat.v1", "chat.v2")})
	_, err := pipeHandshake(t, cfg, func(t *testing.T, conn net.Conn, req *http.Request) {
		key := req.Header.Get("Sec-WebSocket-Key")
		writeUpgradeResponse(conn, key, nil)
	})
	if err == nil {
		t.Fatal("performHandshake() = nil error, want error when subprotocols were offered but the response carries none")
	}
}

func TestPerformHandshakeExpectedErrors(t *testing.T) {
	tests := []struct {
		name    string
		respond func(conn net.Conn, key string)
	}{
		{"wrong status", func(conn net.Conn, key string) {
			fmt.Fprint(conn, "HTTP/1.1 200 OK\r\n\r\n")
		}},
		{"missing upgrade header", func(conn net.Conn, key string) {
			accept, _ := acceptKey(key)
			fmt.Fprint(conn, "HTTP/1.1 101 Switching Protocols\r\n")
			fmt.Fprint(conn, "Connection: Upgrade\r\n")
			fmt.Fprintf(conn, "Sec-WebSocket-Accept: %s\r\n\r\n", accept)
		}},
		{"wrong upgrade header", func(conn net.Conn, key string) {
			accept, _ := acceptKey(key)
			fmt.Fprint(conn, "HTTP/1.1 101 Switching Protocols\r\n")
			fmt.Fprint(conn, "Upgrade: chunked\r\n")
			fmt.Fprint(conn, "Connection: Upgrade\r\n")
			fmt.Fprintf(conn, "Sec-WebSocket-Accept: %s\r\n\r\n", accept)
		}},
		{"wrong connection header", func(conn net.Conn, key string) {
			accept, _ := acceptKey(key)
			fmt.Fprint(conn, "HTTP/1.1 101 Switching Protocols\r\n")
			fmt.Fprint(conn, "Upgrade: websocket\r\n")
			fmt.Fprint(conn, "Connection: close\r\n")
			fmt.Fprintf(conn, "Sec-WebSocket-Accept: %s\r\n\r\n", accept)
		}},
		{"wrong accept", func(conn net.Conn, key string) {
			fmt.Fprint(conn, "HTTP/1.1 101 Switching Protocols\r\n")
			fmt.Fprint(conn, "Upgrade: websocket\r\n")
			fmt.Fprint(conn, "Connection: Upgrade\r\n")
			fmt.Fprint(conn, "Sec-WebSocket-Accept: not-the-right-value\r\n\r\n")
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newConfig(nil)
			_, err := pipeHandshake(t, cfg, func(t *testing.T, conn net.Conn, req *http.Request) {
				tc.respond(conn, req.Header.Get("Sec-WebSocket-Key"))
			})
			if err == nil {
				t.Error("performHandshake() = nil error, want error")
			}
		})
	}
}
