// Package varlink implements the minimal varlink-style protocol spoken
// between the capture daemon and the relay service: each message is one
// JSON object followed by a single NUL byte, exchanged over a Unix
// domain socket.
package varlink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// InterfaceName is the varlink interface served by the relay.
	InterfaceName = "io.ducky.Keystroke"

	// MethodSendKeys is the fully qualified name of the single method.
	MethodSendKeys = InterfaceName + ".SendKeys"

	// ErrInvalidKey names the typed error returned for key lists that
	// are empty after trimming blank entries.
	ErrInvalidKey = InterfaceName + ".InvalidKey"

	// ErrMethodNotFound names the standard varlink error returned for
	// unknown methods.
	ErrMethodNotFound = "org.varlink.service.MethodNotFound"

	// ErrInvalidParameter names the standard varlink error returned for
	// requests whose JSON cannot be decoded.
	ErrInvalidParameter = "org.varlink.service.InvalidParameter"
)

// MaxFrameBytes caps a single message in either direction; oversized
// frames indicate a broken or hostile peer, not a large request.
const MaxFrameBytes = 64 * 1024

// frameDelimiter terminates every message on the wire. Varlink uses a
// NUL byte rather than a length prefix or newline.
const frameDelimiter = 0x00

// Request is one method invocation.
type Request struct {
	Method     string          `json:"method"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Response is the reply to one Request. A non-empty Error names a typed
// error and Parameters carries its payload; otherwise Parameters holds
// the method's success payload.
type Response struct {
	Error      string          `json:"error,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// SendKeysParams carries the arguments of MethodSendKeys.
type SendKeysParams struct {
	Keys    []string `json:"keys"`
	Pressed bool     `json:"pressed"`
}

// SendKeysReply is the success payload of MethodSendKeys. Pressed=false
// on a press request signals that the relay took no action (debounced),
// conflated by design with "no mapping configured".
type SendKeysReply struct {
	Success bool     `json:"success"`
	Keys    []string `json:"keys"`
	Pressed bool     `json:"pressed"`
}

// ErrorParams is the payload of a typed error response.
type ErrorParams struct {
	Message string `json:"message"`
}

// CallError is a typed error returned by the remote service.
type CallError struct {
	Name    string
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NewCallError builds a CallError for the given varlink error name.
func NewCallError(name, message string) *CallError {
	return &CallError{Name: name, Message: message}
}

// EncodeRequest marshals a request envelope with the given parameters.
func EncodeRequest(method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return json.Marshal(Request{Method: method, Parameters: raw})
}

// DecodeRequest unmarshals a request envelope.
func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// EncodeResponse marshals a success response around the given payload.
func EncodeResponse(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return json.Marshal(Response{Parameters: raw})
}

// EncodeErrorResponse marshals a typed error response.
func EncodeErrorResponse(name, message string) ([]byte, error) {
	raw, err := json.Marshal(ErrorParams{Message: message})
	if err != nil {
		return nil, fmt.Errorf("encode error parameters: %w", err)
	}
	return json.Marshal(Response{Error: name, Parameters: raw})
}

// DecodeResponse unmarshals a response envelope.
func DecodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// WriteFrame writes one NUL-terminated message.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.Write([]byte{frameDelimiter}); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one NUL-terminated message, stripping the delimiter.
// A frame cut short by EOF is returned as-is when non-empty, so a peer
// that closes the connection right after the payload still parses.
// reader must have a buffer of at least MaxFrameBytes+1; the returned
// slice aliases the reader's buffer and is valid only until the next
// read.
func ReadFrame(reader *bufio.Reader) ([]byte, error) {
	raw, err := reader.ReadSlice(frameDelimiter)
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("frame exceeds %d bytes", MaxFrameBytes)
	}
	if errors.Is(err, io.EOF) {
		if len(raw) == 0 {
			return nil, io.EOF
		}
		return raw, nil
	}
	if err != nil {
		return nil, err
	}
	return raw[:len(raw)-1], nil
}
