package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType discriminates wire frames. Anything else coming off the wire
// is logged and dropped without failing the connection.
type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameTyping      FrameType = "typing"
	FrameReadReceipt FrameType = "read_receipt"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
	FrameError       FrameType = "error"
	FrameConnected   FrameType = "connected"
)

// Frame is the logical wire unit: a type tag plus a type-specific payload.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame around a payload struct.
func NewFrame(t FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Frame{Type: t, Data: data}, nil
}

// MessagePayload is the body of a "message" frame.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	CreatedAt      int64  `json:"created_at"`
	DeliveredAt    *int64 `json:"delivered_at,omitempty"`
	ReadAt         *int64 `json:"read_at,omitempty"`
}

// TypingPayload is the body of a "typing" frame.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Active         bool   `json:"active"`
}

// ReadReceiptPayload is the body of a "read_receipt" frame.
type ReadReceiptPayload struct {
	MessageID string `json:"message_id"`
	Read      bool   `json:"read"`
	ReadAt    int64  `json:"read_at,omitempty"`
}

// ErrorPayload is the body of an "error" frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

var errEmptyPayload = errors.New("frame has no payload")

// DecodePayload unmarshals the frame's data into out, rejecting frames
// with no payload at all. Loosely-shaped data is not trusted beyond the
// fields the payload struct names.
func DecodePayload(f Frame, out any) error {
	if len(f.Data) == 0 {
		return errEmptyPayload
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}
