// Package session holds per-visitor workflow state: the consent decision and
// the admin bearer token. State is reached only through accessors, and
// components receive the Session they act on explicitly.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/anime-shed/retina-inspector-go/internal/consent"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

var ErrNotFound = errors.New("session not found")

// Session is one visitor's workflow state.
type Session struct {
	id        string
	createdAt time.Time
	updatedAt time.Time
	gate      consent.Gate
	token     string
	user      *models.User
}

// New creates a session with a fresh ID and undecided consent.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		gate:      consent.New(),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// Gate returns the consent gate for in-place transitions.
func (s *Session) Gate() *consent.Gate {
	return &s.gate
}

// Consent returns the persisted consent decision.
func (s *Session) Consent() consent.Consent {
	if s.gate.Consent == "" {
		return consent.NotDecided
	}
	return s.gate.Consent
}

// AuthToken returns the bearer token, or "" when not logged in.
func (s *Session) AuthToken() string {
	return s.token
}

// User returns the logged in user, or nil.
func (s *Session) User() *models.User {
	return s.user
}

// SetAuth stores the token returned by a successful login.
func (s *Session) SetAuth(token string, user *models.User) {
	s.token = token
	s.user = user
}

// ClearAuth forgets the token.
func (s *Session) ClearAuth() {
	s.token = ""
	s.user = nil
}

// Touch records a modification.
func (s *Session) Touch() {
	s.updatedAt = time.Now().UTC()
}

type record struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Gate      consent.Gate `json:"gate"`
	Token     string       `json:"token,omitempty"`
	User      *models.User `json:"user,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:        s.id,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Gate:      s.gate,
		Token:     s.token,
		User:      s.user,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.ID == "" {
		return errors.New("session record has no id")
	}
	s.id = r.ID
	s.createdAt = r.CreatedAt
	s.updatedAt = r.UpdatedAt
	s.gate = r.Gate
	s.token = r.Token
	s.user = r.User
	return nil
}

// clone returns an independent copy so stores never share mutable state
// with callers.
func (s *Session) clone() *Session {
	cp := *s
	if s.user != nil {
		u := *s.user
		cp.user = &u
	}
	return &cp
}
