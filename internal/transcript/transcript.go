package transcript

import "time"

// Key identifies a transcript row.
type Key struct {
	SessionID string
	MessageID string
}

func (k Key) String() string {
	return k.SessionID + "/" + k.MessageID
}

// Transcript is the accumulated text for one (session, message) pair.
// RawText only grows; the other text fields hold the latest value of their
// type and stay nil until one arrives.
type Transcript struct {
	SessionID       string    `json:"session"`
	MessageID       string    `json:"message_id"`
	Speaker         string    `json:"speaker"`
	RawText         string    `json:"raw_text"`
	ProcessedText   *string   `json:"processed_text,omitempty"`
	CorrectedText   *string   `json:"corrected_text,omitempty"`
	ConciseText     *string   `json:"concise_text,omitempty"`
	HighlightedText *string   `json:"highlighted_text,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key returns the transcript's identity.
func (t *Transcript) Key() Key {
	return Key{SessionID: t.SessionID, MessageID: t.MessageID}
}

// New builds the record for the first message seen for a key.
func New(msg StreamMessage, now time.Time) *Transcript {
	t := &Transcript{
		SessionID: msg.SessionID,
		MessageID: msg.MessageID,
		Speaker:   msg.Speaker,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if msg.Type == TypeTranscription {
		t.RawText = msg.Text
		return t
	}
	t.set(msg.Type, msg.Text)
	return t
}

// Apply merges a later message into an existing record.
func (t *Transcript) Apply(msg StreamMessage, now time.Time) {
	if msg.Type == TypeTranscription {
		t.RawText += " " + msg.Text
	} else {
		t.set(msg.Type, msg.Text)
	}
	t.UpdatedAt = now
}

func (t *Transcript) set(typ Type, text string) {
	v := text
	switch typ {
	case TypeProcessed:
		t.ProcessedText = &v
	case TypeCorrected:
		t.CorrectedText = &v
	case TypeConcise:
		t.ConciseText = &v
	case TypeHighlight:
		t.HighlightedText = &v
	}
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (t *Transcript) Clone() *Transcript {
	c := *t
	c.ProcessedText = cloneString(t.ProcessedText)
	c.CorrectedText = cloneString(t.CorrectedText)
	c.ConciseText = cloneString(t.ConciseText)
	c.HighlightedText = cloneString(t.HighlightedText)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
