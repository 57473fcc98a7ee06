// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/ghbridge/lib/codec"
)

// ResponsePrefix is prepended to a request's event name to form the
// event name of its reply.
const ResponsePrefix = "response."

// Message is one unit on the bus.
//
// Deadline is set by PushWait to the moment the requester stops waiting
// for a reply. Handlers of such a message receive a context that is
// cancelled at the deadline with cause ErrTimeout.
type Message struct {
	EventName string           `json:"eventName"`
	Sender    string           `json:"sender"`
	MessageID string           `json:"messageId"`
	Deadline  time.Time        `json:"deadline,omitzero"`
	Data      codec.RawMessage `json:"data"`
}

// NewMessage encodes data and stamps a fresh message ID.
func NewMessage(eventName, sender string, data any) (Message, error) {
	encoded, err := codec.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("queue: encoding %s payload: %w", eventName, err)
	}
	return Message{
		EventName: eventName,
		Sender:    sender,
		MessageID: uuid.NewString(),
		Data:      encoded,
	}, nil
}

// Reply builds the response to message: same message ID, event name
// prefixed with ResponsePrefix.
func (message Message) Reply(sender string, data any) (Message, error) {
	encoded, err := codec.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("queue: encoding reply to %s: %w", message.EventName, err)
	}
	return Message{
		EventName: ResponsePrefix + message.EventName,
		Sender:    sender,
		MessageID: message.MessageID,
		Data:      encoded,
	}, nil
}

// Decode decodes the payload into v.
func (message Message) Decode(v any) error {
	if len(message.Data) == 0 {
		return fmt.Errorf("queue: %s message %s has no data", message.EventName, message.MessageID)
	}
	if err := codec.Unmarshal(message.Data, v); err != nil {
		return fmt.Errorf("queue: decoding %s payload: %w", message.EventName, err)
	}
	return nil
}

// IsResponse reports whether the message is a reply to a request.
func (message Message) IsResponse() bool {
	return strings.HasPrefix(message.EventName, ResponsePrefix)
}
