package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jrsteele09/artvinci-web/credentials"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/rs/zerolog/log"
)

// Store holds the process-wide credential pair and profile snapshot. Readers
// never block and always observe a complete session: the pair and profile are
// swapped together behind one pointer. Writers are serialized and persist
// before the swap, so a failed write leaves the previous session in place.
type Store struct {
	backend Backend
	writeMu sync.Mutex
	current atomic.Pointer[credentials.Session]
}

// New creates a store on top of backend. Call Load to pick up persisted state.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load reads the persisted session. An absent key is the normal first-visit
// state; an unreadable record is logged and treated as absent.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.backend.Read(ctx, KeySession)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		s.current.Store(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("[tokenstore Load] %w", err)
	}

	var session credentials.Session
	if err := json.Unmarshal(data, &session); err != nil || session.Empty() {
		log.Warn().Err(err).Msg("Discarding unreadable stored session")
		s.current.Store(nil)
		return nil
	}
	s.current.Store(&session)
	return nil
}

// Get returns a copy of the current session.
func (s *Store) Get() (credentials.Session, bool) {
	current := s.current.Load()
	if current == nil {
		return credentials.Session{}, false
	}
	session := *current
	session.Profile.Roles = slices.Clone(current.Profile.Roles)
	return session, true
}

// Set persists session and makes it current. A session without an access
// token clears the store.
func (s *Store) Set(ctx context.Context, session credentials.Session) error {
	if session.Empty() {
		return s.Clear(ctx)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[tokenstore Set] marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Write(ctx, KeySession, data); err != nil {
		return fmt.Errorf("[tokenstore Set] %w", err)
	}

	session.Profile.Roles = slices.Clone(session.Profile.Roles)
	s.current.Store(&session)
	return nil
}

// Replace swaps in next only while the current session still holds
// staleAccessToken. An empty next clears the session. When the session was
// logged out or replaced in the meantime nothing is written and
// ErrSessionReplaced is returned.
func (s *Store) Replace(ctx context.Context, staleAccessToken string, next credentials.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.current.Load()
	if current == nil || current.Credentials.AccessToken != staleAccessToken {
		return apperrors.ErrSessionReplaced
	}

	if next.Empty() {
		s.current.Store(nil)
		return apperrors.Wrapf(s.backend.Delete(ctx, KeySession), "[tokenstore Replace] delete")
	}

	data, err := json.Marshal(next)
	if err != nil {
		return apperrors.Wrapf(err, "[tokenstore Replace] marshal")
	}
	if err := s.backend.Write(ctx, KeySession, data); err != nil {
		return apperrors.Wrapf(err, "[tokenstore Replace]")
	}

	next.Profile.Roles = slices.Clone(next.Profile.Roles)
	s.current.Store(&next)
	return nil
}

// Clear removes the pair and profile together. The in-memory copy is dropped
// even when the backend delete fails, so a stale session is never served.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(nil)
	if err := s.backend.Delete(ctx, KeySession); err != nil {
		return fmt.Errorf("[tokenstore Clear] %w", err)
	}
	return nil
}
