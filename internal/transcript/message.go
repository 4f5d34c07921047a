package transcript

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultSpeaker is used when an STT message carries no speaker label.
const DefaultSpeaker = "SPEAKER_00"

// Type is the kind of text an STT message carries.
type Type string

const (
	TypeTranscription Type = "transcription"
	TypeProcessed     Type = "processed"
	TypeCorrected     Type = "corrected"
	TypeConcise       Type = "concise"
	TypeHighlight     Type = "highlight"
)

// StreamMessage is one validated event from the STT backend.
type StreamMessage struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Speaker   string `json:"speaker"`
}

// Key returns the transcript key this message merges into.
func (m StreamMessage) Key() Key {
	return Key{SessionID: m.SessionID, MessageID: m.MessageID}
}

// wireMessage mirrors the JSON payload. Pointers distinguish a missing
// field from an empty one. Empty message_id and session_id are rejected so
// every transcript has a usable key, and "speaker": null is treated as
// absent and gets DefaultSpeaker.
type wireMessage struct {
	MessageID *string `json:"message_id" validate:"required,min=1"`
	Text      *string `json:"text" validate:"required"`
	Type      *string `json:"type" validate:"required,oneof=transcription processed corrected concise highlight"`
	SessionID *string `json:"session_id" validate:"required,min=1"`
	Speaker   *string `json:"speaker"`
}

// ValidationError reports a payload that is not a well-formed STT message.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid stt message: %s: %v", e.Reason, e.Err)
	}
	return "invalid stt message: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ParseMessage decodes and validates a raw STT payload. Unknown message
// types are rejected.
func ParseMessage(payload []byte) (StreamMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return StreamMessage{}, &ValidationError{Reason: "malformed json", Err: err}
	}

	if err := getValidator().Struct(w); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" failed "+fe.Tag())
			}
		}
		reason := "schema mismatch"
		if len(fields) > 0 {
			reason = strings.Join(fields, "; ")
		}
		return StreamMessage{}, &ValidationError{Reason: reason, Err: err}
	}

	msg := StreamMessage{
		MessageID: *w.MessageID,
		Text:      *w.Text,
		Type:      Type(*w.Type),
		SessionID: *w.SessionID,
		Speaker:   DefaultSpeaker,
	}
	if w.Speaker != nil {
		msg.Speaker = *w.Speaker
	}
	return msg, nil
}
