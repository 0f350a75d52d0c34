// File: internal/store/state.go
// Package store persists authenticated session state across runs. The
// store is the only resource shared between concurrent sessions, so every
// backend guarantees that a reader never observes a partially written
// snapshot.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no snapshot exists for the session ID.
var ErrNotFound = errors.New("store: session state not found")

// maxHistory bounds the navigation history kept in a snapshot.
const maxHistory = 20

// Cookie is a serializable browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"same_site,omitempty"`
}

// SessionState is the serialized snapshot of one authenticated browser
// session: read at session start, refreshed by the login collaborator,
// written back at session end.
type SessionState struct {
	Authenticated bool      `json:"authenticated"`
	Cookies       []Cookie  `json:"cookies,omitempty"`
	LastURL       string    `json:"last_url,omitempty"`
	History       []string  `json:"history,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// PushHistory appends a visited location, keeping the history bounded to
// the most recent entries.
func (s *SessionState) PushHistory(url string) {
	s.History = append(s.History, url)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.LastURL = url
}

// Store persists and retrieves session snapshots keyed by session ID.
type Store interface {
	// Load returns ErrNotFound when no snapshot exists.
	Load(ctx context.Context, id string) (*SessionState, error)
	// Save atomically replaces the snapshot for the ID.
	Save(ctx context.Context, id string, state *SessionState) error
}
