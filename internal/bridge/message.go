package bridge

import (
	"errors"
	"fmt"
)

// Actions sent by the producing side.
const (
	ActionCreateStream = "CreateStream"
	ActionWriteChunk   = "WriteChunk"
	ActionCloseStream  = "CloseStream"
)

// Actions broadcast by the worker.
const (
	ActionSuccessStream = "SuccessStream"
	ActionSuccessWrite  = "SuccessWrite"
	ActionSuccessClose  = "SuccessClose"
	ActionErrorStream   = "ErrorStream"
)

// ErrInvalidMessage is returned by Validate for malformed requests.
var ErrInvalidMessage = errors.New("invalid bridge message")

// Message is one bridge protocol message in either direction. Chunk travels
// as base64 in JSON.
type Message struct {
	Action      string `json:"action"`
	ID          string `json:"id,omitempty"`
	OperationID string `json:"operationId,omitempty"`
	Chunk       []byte `json:"chunk,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Validate checks that a request carries the fields its action needs.
func (m Message) Validate() error {
	switch m.Action {
	case ActionCreateStream, ActionCloseStream:
		if m.ID == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidMessage, m.Action)
		}
	case ActionWriteChunk:
		if m.ID == "" || m.OperationID == "" {
			return fmt.Errorf("%w: WriteChunk needs id and operationId", ErrInvalidMessage)
		}
	case "":
		return fmt.Errorf("%w: missing action", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, m.Action)
	}
	return nil
}
