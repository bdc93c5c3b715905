package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingHandler keeps the order in which each user's events were handled.
type recordingHandler struct {
	mu      sync.Mutex
	perUser map[string][]string
	panicOn string
}

func (h *recordingHandler) Handle(ctx context.Context, ev messenger.Event) {
	if ev.Text == h.panicOn {
		panic("boom")
	}
	// Give other lanes a chance to interleave.
	time.Sleep(time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.perUser == nil {
		h.perUser = make(map[string][]string)
	}
	h.perUser[ev.UserID] = append(h.perUser[ev.UserID], ev.Text)
}

func TestRunnerPreservesPerUserOrder(t *testing.T) {
	handler := &recordingHandler{}
	runner := NewRunner(handler, 4, zerolog.Nop())

	events := make(chan messenger.Event)
	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), events)
		close(done)
	}()

	users := []string{"42", "7", "9", "13"}
	for i := 0; i < 10; i++ {
		for _, u := range users {
			events <- messenger.Event{Kind: messenger.KindText, UserID: u, Text: fmt.Sprintf("m%d", i)}
		}
	}
	close(events)
	<-done

	for _, u := range users {
		require.Len(t, handler.perUser[u], 10)
		for i, text := range handler.perUser[u] {
			assert.Equal(t, fmt.Sprintf("m%d", i), text, "user %s", u)
		}
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	handler := &recordingHandler{panicOn: "explode"}
	runner := NewRunner(handler, 1, zerolog.Nop())

	events := make(chan messenger.Event, 3)
	events <- messenger.Event{UserID: "42", Text: "before"}
	events <- messenger.Event{UserID: "42", Text: "explode"}
	events <- messenger.Event{UserID: "42", Text: "after"}
	close(events)

	assert.NotPanics(t, func() { runner.Run(context.Background(), events) })
	assert.Equal(t, []string{"before", "after"}, handler.perUser["42"])
}

func TestRunnerStopsOnCancel(t *testing.T) {
	runner := NewRunner(&recordingHandler{}, 2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Run(ctx, make(chan messenger.Event))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestLaneForIsStable(t *testing.T) {
	runner := NewRunner(&recordingHandler{}, 8, zerolog.Nop())

	lane := runner.laneFor("42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, lane, runner.laneFor("42"))
	}
	assert.Less(t, lane, 8)
	assert.Equal(t, 0, NewRunner(&recordingHandler{}, 0, zerolog.Nop()).laneFor("42"))
}

func TestRunnerKeepsSnapshotConsistentAcrossUsers(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(zerolog.SyncWriter(&logs)).Level(zerolog.ErrorLevel)

	f := newFixture(t, WithLogger(logger))
	f.completer.reply = "ok"
	f.sender.On("Send", mock.Anything, mock.Anything, "ok").Return(nil)

	events := make(chan messenger.Event)
	done := make(chan struct{})
	go func() {
		NewRunner(f.dispatcher, 4, zerolog.Nop()).Run(context.Background(), events)
		close(done)
	}()

	users := []string{"42", "7", "9", "13", "21"}
	for i := 0; i < 8; i++ {
		for n, u := range users {
			events <- textEvent(u, int64(n), fmt.Sprintf("m%d", i))
		}
	}
	close(events)
	<-done

	assert.Empty(t, logs.String(), "no persistence or send errors")

	onDisk, err := transcript.NewFileBackend(f.snapshot).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.store.Snapshot(), onDisk)

	for _, u := range users {
		tr := onDisk[u]
		require.Len(t, tr, 16, "user %s", u)
		for i := 0; i < 8; i++ {
			assert.Equal(t, transcript.UserTurn(fmt.Sprintf("m%d", i)), tr[2*i], "user %s", u)
			assert.Equal(t, transcript.AssistantTurn("ok"), tr[2*i+1], "user %s", u)
		}
	}
	f.sender.AssertNumberOfCalls(t, "Send", 40)
}
