package transcript

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBackend records saves without touching disk.
type memoryBackend struct {
	mu        sync.Mutex
	snapshot  Snapshot
	saves     int
	userSaves map[string]int
	saveErr   error
}

func (m *memoryBackend) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return make(Snapshot), nil
	}
	return m.snapshot.Clone(), nil
}

func (m *memoryBackend) Save(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snapshot = s.Clone()
	return nil
}

func (m *memoryBackend) Close() error { return nil }

// perUserBackend adds SaveUser on top of memoryBackend.
type perUserBackend struct {
	memoryBackend
}

func (p *perUserBackend) SaveUser(ctx context.Context, userID string, t Transcript) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		p.snapshot = make(Snapshot)
	}
	if p.userSaves == nil {
		p.userSaves = make(map[string]int)
	}
	p.userSaves[userID]++
	if len(t) == 0 {
		delete(p.snapshot, userID)
		return nil
	}
	p.snapshot[userID] = t.Clone()
	return nil
}

func TestStoreAppendPreservesOrder(t *testing.T) {
	store := NewStore(&memoryBackend{})

	store.AppendTurn("42", UserTurn("Hi"))
	store.AppendTurn("42", AssistantTurn("Hello! How can I help?"))

	assert.Equal(t, Transcript{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello! How can I help?"},
	}, store.Get("42"))
}

func TestStoreGetUnknownUser(t *testing.T) {
	store := NewStore(&memoryBackend{})

	got := store.Get("nobody")
	assert.Empty(t, got)
	assert.Empty(t, store.Users(), "Get must not create an entry")
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStore(&memoryBackend{})
	store.AppendTurn("42", UserTurn("Hi"))

	got := store.Get("42")
	got[0].Content = "changed"

	assert.Equal(t, "Hi", store.Get("42")[0].Content)
}

func TestStoreUsersAreIsolated(t *testing.T) {
	store := NewStore(&memoryBackend{})
	store.AppendTurn("7", UserTurn("seven"))
	store.AppendTurn("9", UserTurn("nine"))

	store.Clear("7")

	assert.Empty(t, store.Get("7"))
	assert.Equal(t, Transcript{UserTurn("nine")}, store.Get("9"))
}

func TestStoreClearIsIdempotent(t *testing.T) {
	store := NewStore(&memoryBackend{})
	store.AppendTurn("42", UserTurn("Hi"))

	store.Clear("42")
	store.Clear("42")
	store.Clear("never-seen")

	assert.Empty(t, store.Get("42"))
	assert.Empty(t, store.Users())
}

func TestStoreFlushAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat_history.json")

	store := NewStore(NewFileBackend(path))
	store.AppendTurn("42", UserTurn("Hi"))
	store.AppendTurn("42", AssistantTurn("Hello! How can I help?"))
	store.AppendTurn("9", UserTurn("hey"))
	require.NoError(t, store.Flush(ctx))

	reloaded := NewStore(NewFileBackend(path))
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, store.Snapshot(), reloaded.Snapshot())
	assert.Equal(t, []string{"42", "9"}, reloaded.Users())
}

func TestStoreLoadMissingSnapshot(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "absent.json")))

	require.NoError(t, store.Load(context.Background()))
	assert.Empty(t, store.Users())
}

func TestStoreFlushError(t *testing.T) {
	backend := &memoryBackend{saveErr: errors.New("disk full")}
	store := NewStore(backend)
	store.AppendTurn("42", UserTurn("Hi"))

	err := store.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The in-memory state is unaffected by the failed write.
	assert.Len(t, store.Get("42"), 1)
}

func TestStoreCommitUsesPerUserBackend(t *testing.T) {
	ctx := context.Background()
	backend := &perUserBackend{}
	store := NewStore(backend)

	store.AppendTurn("42", UserTurn("Hi"))
	require.NoError(t, store.Commit(ctx, "42"))
	store.Clear("42")
	require.NoError(t, store.Commit(ctx, "42"))

	assert.Equal(t, 2, backend.userSaves["42"])
	assert.Zero(t, backend.saves)
	assert.NotContains(t, backend.snapshot, "42")
}

func TestStoreCommitFallsBackToFlush(t *testing.T) {
	backend := &memoryBackend{}
	store := NewStore(backend)

	store.AppendTurn("42", UserTurn("Hi"))
	require.NoError(t, store.Commit(context.Background(), "42"))

	assert.Equal(t, 1, backend.saves)
	assert.Equal(t, Transcript{UserTurn("Hi")}, backend.snapshot["42"])
}

func TestStoreContextAppliesWindow(t *testing.T) {
	store := NewStore(&memoryBackend{}, WithWindow(Window{MaxTurns: 2}))
	for i := 0; i < 5; i++ {
		store.AppendTurn("42", UserTurn(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, Transcript{UserTurn("m3"), UserTurn("m4")}, store.Context("42"))
	assert.Len(t, store.Get("42"), 5, "stored history is never truncated")

	store.SetWindow(Window{})
	assert.Len(t, store.Context("42"), 5)
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := NewStore(&memoryBackend{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			store.AppendTurn(user, UserTurn("x"))
			_ = store.Flush(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Stats{Users: 4, Turns: 20}, store.Stats())
}
