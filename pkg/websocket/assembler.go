package websocket

// message is a complete, defragmented application message: the
// concatenated payload of a data frame and all of its continuation
// frames.
type message struct {
	opcode Opcode
	data   []byte
}

// assembler defragments the data frames (text and binary, plus their
// continuations) of a single connection into whole messages, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4. Control
// frames are handled separately by control.go and never reach it:
// RFC 6455 permits them to be interleaved between the fragments of a
// data message, so the frame-routing loop in conn.go dispatches each
// inbound frame to the assembler or to control handling before this
// type ever sees it.
//
// Used only in ModeMessage; ModeStream exposes frames to the caller
// directly and never constructs one.
type assembler struct {
	maxSize int

	inProgress bool
	opcode     Opcode
	buf        []byte
	utf8       utf8Validator
}

func newAssembler(maxSize int) *assembler {
	return &assembler{maxSize: maxSize}
}

// addFrame folds one data frame into the message under construction.
// It returns the completed message once a FIN frame closes it out.
func (a *assembler) addFrame(f frame) (message, bool, error) {
	if f.opcode == opcodeContinuation {
		if !a.inProgress {
			return message{}, false, newProtocolError("continuation frame without a preceding data frame")
		}
	} else {
		if a.inProgress {
			return message{}, false, newProtocolError("new data frame while a fragmented message is in progress")
		}
		a.inProgress = true
		a.opcode = f.opcode
		a.buf = a.buf[:0]
		a.utf8.reset()
	}

	if a.maxSize > 0 && len(a.buf)+len(f.payload) > a.maxSize {
		a.reset()
		return message{}, false, &ProtocolError{
			Reason: "assembled message exceeds the configured maximum size",
			Status: StatusMessageTooBig,
		}
	}
	a.buf = append(a.buf, f.payload...)

	if a.opcode == OpcodeText {
		if !a.utf8.feed(f.payload) {
			a.reset()
			return message{}, false, &ProtocolError{
				Reason: "text message is not valid UTF-8",
				Status: StatusInvalidData,
			}
		}
	}

	if !f.fin {
		return message{}, false, nil
	}

	if a.opcode == OpcodeText && !a.utf8.valid() {
		a.reset()
		return message{}, false, &ProtocolError{
			Reason: "text message ends mid-sequence",
			Status: StatusInvalidData,
		}
	}

	msg := message{opcode: a.opcode, data: append([]byte(nil), a.buf...)}
	a.reset()
	return msg, true, nil
}

func (a *assembler) reset() {
	a.inProgress = false
	a.opcode = 0
	a.buf = a.buf[:0]
	a.utf8.reset()
}
