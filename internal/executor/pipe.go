// Package executor implements the task executor child process: loading
// a user task function by registered name, running it against framed
// arguments read from a pipe, and writing a framed result back (spec.md
// §4.6). MessageType and Message implement the length-prefixed binary
// wire protocol that grounds
// original_source/src/spider/utils/pipe.cpp and the round-trip contract
// exercised in original_source/tests/worker/test-MessagePipe.cpp.
//
// No msgpack-equivalent binary codec appears anywhere in the reference
// corpus; encoding/gob is the idiomatic standard-library choice for a
// self-describing binary payload exchanged between two Go processes over
// a pipe, so it is used here rather than hand-rolling a wire format.
package executor

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/swarmgraph/spider/internal/core"
)

// MessageType tags the payload carried by one framed message.
type MessageType uint8

const (
	MessageArgs MessageType = iota
	MessageResult
	MessageError
	MessageCancel
	MessageAck
)

// MaxFrameSize bounds a single frame's payload, guarding against a
// corrupt length prefix turning into an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// Message is the tagged record {type, body} carried by one frame.
type Message struct {
	Type MessageType
	Body []byte
}

// ArgsPayload is the gob-encoded body of a MessageArgs frame: the
// serialized argument tuple passed to the registered task function.
type ArgsPayload struct {
	Args [][]byte
}

// ResultPayload is the gob-encoded body of a MessageResult frame.
type ResultPayload struct {
	Outputs [][]byte
}

// ErrorPayload is the gob-encoded body of a MessageError frame.
type ErrorPayload struct {
	Kind    core.TaskExecutionErrKind
	Message string
}

// EncodeArgs builds a MessageArgs frame body from a tuple of already
// serialized argument buffers.
func EncodeArgs(args [][]byte) ([]byte, error) {
	return gobEncode(ArgsPayload{Args: args})
}

func DecodeArgs(body []byte) (ArgsPayload, error) {
	var p ArgsPayload
	err := gobDecode(body, &p)
	return p, err
}

func EncodeResult(outputs [][]byte) ([]byte, error) {
	return gobEncode(ResultPayload{Outputs: outputs})
}

func DecodeResult(body []byte) (ResultPayload, error) {
	var p ResultPayload
	err := gobDecode(body, &p)
	return p, err
}

func EncodeError(kind core.TaskExecutionErrKind, message string) ([]byte, error) {
	return gobEncode(ErrorPayload{Kind: kind, Message: message})
}

func DecodeError(body []byte) (ErrorPayload, error) {
	var p ErrorPayload
	err := gobDecode(body, &p)
	return p, err
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// SendMessage writes a little-endian 4-byte length prefix followed by
// msg's type byte and body to w.
func SendMessage(w io.Writer, msg Message) error {
	payload := make([]byte, 1+len(msg.Body))
	payload[0] = byte(msg.Type)
	copy(payload[1:], msg.Body)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReceiveMessage reads one framed message from r. EOF while reading the
// length prefix is returned as io.EOF (the caller converts that to
// ProtocolPipeEOF / a task failure, spec.md §4.6); any other incompleteness
// is a ProtocolErr.
func ReceiveMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Message{}, core.NewProtocolErr(core.ProtocolBadFrame, "truncated length prefix")
		}
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Message{}, core.NewProtocolErr(core.ProtocolBadFrame, "zero-length frame")
	}
	if n > MaxFrameSize {
		return Message{}, core.NewProtocolErr(core.ProtocolFrameTooLarge, "frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, core.NewProtocolErr(core.ProtocolBadFrame, "truncated payload: %v", err)
	}
	return Message{Type: MessageType(payload[0]), Body: payload[1:]}, nil
}

func (t MessageType) String() string {
	switch t {
	case MessageArgs:
		return "Args"
	case MessageResult:
		return "Result"
	case MessageError:
		return "Error"
	case MessageCancel:
		return "Cancel"
	case MessageAck:
		return "Ack"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
