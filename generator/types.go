package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRole is returned when a Turn is built with an unknown speaker.
	ErrInvalidRole = errors.New("invalid role")
	// ErrTemplateNotFound is returned when rendering an unknown prompt template.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrMissingVariable is returned when a template placeholder has no value.
	ErrMissingVariable = errors.New("missing template variable")
	// ErrModelUnavailable wraps every failed model invocation.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrPersistFailure wraps I/O failures while writing the article file.
	ErrPersistFailure = errors.New("persist failure")
)

// Role is the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message of the interview. It cannot be changed after creation.
type Turn struct {
	role    Role
	content string
}

// NewTurn validates the role and builds a Turn.
func NewTurn(role Role, content string) (Turn, error) {
	if !role.Valid() {
		return Turn{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return Turn{role: role, content: content}, nil
}

func userTurn(content string) Turn      { return Turn{role: RoleUser, content: content} }
func assistantTurn(content string) Turn { return Turn{role: RoleAssistant, content: content} }

func (t Turn) Role() Role      { return t.role }
func (t Turn) Content() string { return t.content }

type turnJSON struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal(turnJSON{Role: t.role, Content: t.content})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	turn, err := NewTurn(raw.Role, raw.Content)
	if err != nil {
		return err
	}
	*t = turn
	return nil
}

// Article is the finished piece. Text is the model reply, untouched; the other
// fields are derived from it.
type Article struct {
	Text      string    `json:"text"`
	Title     string    `json:"title"`
	Digest    string    `json:"digest"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
	// Path is empty when the article could not be written to disk.
	Path string `json:"path,omitempty"`
}
