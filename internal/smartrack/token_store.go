package smartrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenReader is the authentication precondition seen by background
// processing: an empty token means "do not attempt, do not lose items".
type TokenReader interface {
	Token() string
}

// TokenStore persists the bearer credential across restarts. Acquiring and
// refreshing the credential is the auth provider's job; this only holds the
// latest value it handed over.
type TokenStore struct {
	path string
	mu   sync.Mutex
}

type tokenStoreState struct {
	AuthToken string `json:"authToken"`
}

func NewTokenStore(path string) (*TokenStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &TokenStore{path: path}, nil
}

func (s *TokenStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return ""
	}
	return state.AuthToken
}

func (s *TokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(tokenStoreState{AuthToken: strings.TrimSpace(token)})
}

func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(tokenStoreState{})
}

func (s *TokenStore) load() (tokenStoreState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tokenStoreState{}, nil
		}
		return tokenStoreState{}, err
	}
	var state tokenStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return tokenStoreState{}, nil
	}
	return state, nil
}

func (s *TokenStore) save(state tokenStoreState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// StaticToken adapts a fixed credential (tests, CLI flags) to TokenReader.
type StaticToken string

func (t StaticToken) Token() string {
	return string(t)
}
