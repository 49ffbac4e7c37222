// ABOUTME: Inbound client commands and the frame decoder
// ABOUTME: Turns raw socket frames into validated SelectChat and UserMessage commands

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxQueryBytes bounds the size of a research query.
const MaxQueryBytes = 32 * 1024

const (
	senderUser       = "user"
	frameSelectChat  = "select_chat"
	frameUserMessage = "message"
)

// commandValidate is the validator instance for inbound commands.
// Initialized in init() with custom validators.
var commandValidate *validator.Validate

func init() {
	commandValidate = validator.New()
	_ = commandValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// Command is a decoded inbound frame: SelectChat or UserMessage.
type Command interface {
	commandName() string
}

// CommandType returns the wire "type" tag of a command.
func CommandType(cmd Command) string {
	if cmd == nil {
		return ""
	}
	return cmd.commandName()
}

// SelectChat binds the connection to an existing chat.
type SelectChat struct {
	ChatID string `json:"chat_id" validate:"required,max=128,printascii"`
}

func (SelectChat) commandName() string { return frameSelectChat }

// UserMessage asks for a research run. ChatID, when set, rebinds the
// connection before the run starts. Text is trimmed and may be empty.
type UserMessage struct {
	Text   string `json:"text" validate:"maxbytes"`
	ChatID string `json:"chat_id" validate:"omitempty,max=128,printascii"`
}

func (UserMessage) commandName() string { return frameUserMessage }

// DecodeError reports an inbound frame that could not be turned into a
// command. The connection stays usable.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Err)
	}
	return "decode error: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// inboundFrame is the union of every inbound frame's fields.
type inboundFrame struct {
	Type   string  `json:"type"`
	Sender string  `json:"sender"`
	Text   *string `json:"text"`
	ChatID string  `json:"chat_id"`
}

// Decode parses one inbound frame. Any failure is a *DecodeError.
func Decode(raw []byte) (Command, error) {
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Reason: "frame is not valid UTF-8"}
	}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: err}
	}

	var cmd Command
	switch f.Type {
	case frameSelectChat:
		cmd = &SelectChat{ChatID: strings.TrimSpace(f.ChatID)}
	case frameUserMessage:
		if f.Sender != senderUser {
			return nil, &DecodeError{Reason: fmt.Sprintf("unsupported sender %q", f.Sender)}
		}
		text := ""
		if f.Text != nil {
			text = strings.TrimSpace(*f.Text)
		}
		cmd = &UserMessage{Text: text, ChatID: strings.TrimSpace(f.ChatID)}
	case "":
		return nil, &DecodeError{Reason: "missing frame type"}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown frame type %q", f.Type)}
	}

	if err := commandValidate.Struct(cmd); err != nil {
		return nil, &DecodeError{Reason: describeValidation(err), Err: err}
	}
	return cmd, nil
}

// describeValidation renders validator errors as "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid frame"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", jsonFieldName(fe.Field()), fe.Tag()))
	}
	return "invalid frame (" + strings.Join(parts, ", ") + ")"
}

func jsonFieldName(field string) string {
	switch field {
	case "ChatID":
		return "chat_id"
	case "Text":
		return "text"
	}
	return strings.ToLower(field)
}
