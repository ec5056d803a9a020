package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageType is the type tag carried by every envelope.
type MessageType string

const (
	// Agent -> hub
	MessageTypeUpdateState MessageType = "updateState"

	// Hub -> agent commands
	MessageTypeNavigateTo       MessageType = "navigateTo"
	MessageTypeClickElement     MessageType = "clickElement"
	MessageTypeTypeText         MessageType = "typeText"
	MessageTypeFillForm         MessageType = "fillForm"
	MessageTypeWaitForElement   MessageType = "waitForElement"
	MessageTypeExtractTable     MessageType = "extractTable"
	MessageTypeTakeScreenshot   MessageType = "takeScreenshot"
	MessageTypeGetElementInfo   MessageType = "getElementInfo"
	MessageTypeChangeBackground MessageType = "changeBackground"

	// Hub -> agent notices
	MessageTypeSystem MessageType = "system"
	MessageTypeError  MessageType = "error"
)

// ServerSenderID is the sender_id stamped on every envelope the hub originates.
const ServerSenderID = "server"

// Envelope is the message unit exchanged with agents in both directions.
// Args holds either a positional list or a structured object, kept raw so
// it round-trips without reinterpretation.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Args      json.RawMessage `json:"args"`
	SenderID  string          `json:"sender_id,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// NewEnvelope builds a hub-originated envelope with positional args.
func NewEnvelope(msgType MessageType, args ...any) (*Envelope, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s args: %w", msgType, err)
	}
	return &Envelope{
		Type:      msgType,
		Args:      raw,
		SenderID:  ServerSenderID,
		Timestamp: Timestamp{Time: time.Now().UTC()},
	}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ArgList returns the positional args. It fails if args is not a JSON array.
func (e *Envelope) ArgList() ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(e.Args)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: args of %q is not a list", ErrMalformedEnvelope, e.Type)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return list, nil
}

// Timestamp accepts either an ISO-8601 string or a number of epoch
// milliseconds on the wire and always emits RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler. Unparseable values leave the
// timestamp zero; the field is informational only.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return nil
	}

	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}
