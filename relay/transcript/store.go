package transcript

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Store maps user ids to transcripts. All access goes through one mutex, and
// persistence runs under the same lock, so a snapshot write never overlaps a
// mutation or another write.
type Store struct {
	mu          sync.Mutex
	transcripts Snapshot
	backend     Backend
	window      Window
	logger      zerolog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithWindow sets the context window applied by Context.
func WithWindow(w Window) Option {
	return func(s *Store) {
		s.window = w
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store persisted through backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		transcripts: make(Snapshot),
		backend:     backend,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory mapping with the backend snapshot. A missing
// snapshot yields an empty store; a malformed one returns *PersistenceError.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = make(Snapshot)
	}

	s.transcripts = snapshot
	s.logger.Info().Int("users", len(snapshot)).Msg("Loaded transcripts")
	return nil
}

// Get returns a copy of the user's full transcript, empty if unseen.
// It never creates an entry.
func (s *Store) Get(userID string) Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transcripts[userID].Clone()
}

// Context returns the windowed view of the user's transcript that is sent to
// the provider. Older turns stay in the store.
func (s *Store) Context(userID string) Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.window.Apply(s.transcripts[userID])
}

// SetWindow replaces the context window, e.g. after a config reload.
func (s *Store) SetWindow(w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = w
}

// AppendTurn appends turn to the user's transcript, creating it if absent.
func (s *Store) AppendTurn(userID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts[userID] = append(s.transcripts[userID], turn)
}

// Clear removes the user's transcript. Clearing an unknown user is a no-op.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transcripts, userID)
}

// Flush writes the entire mapping to the backend.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked(ctx)
}

// Commit persists the result of a mutation for userID. Backends that keep one
// record per user only rewrite that user; others get a full flush.
func (s *Store) Commit(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ub, ok := s.backend.(UserBackend)
	if !ok {
		return s.flushLocked(ctx)
	}

	if err := ub.SaveUser(ctx, userID, s.transcripts[userID].Clone()); err != nil {
		return fmt.Errorf("failed to persist transcript for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) flushLocked(ctx context.Context) error {
	if err := s.backend.Save(ctx, s.transcripts.Clone()); err != nil {
		return fmt.Errorf("failed to flush transcripts: %w", err)
	}
	return nil
}

// Users returns the known user ids in sorted order.
func (s *Store) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.transcripts))
	for user := range s.transcripts {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Snapshot returns a deep copy of the whole mapping.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transcripts.Clone()
}

// Stats summarizes the store contents.
type Stats struct {
	Users int `json:"users"`
	Turns int `json:"turns"`
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Users: len(s.transcripts)}
	for _, t := range s.transcripts {
		st.Turns += len(t)
	}
	return st
}
