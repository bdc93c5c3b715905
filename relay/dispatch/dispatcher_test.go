package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/chatrelay/relay/generation"
	"github.com/ZanzyTHEbar/chatrelay/relay/generation/adapters"
	"github.com/ZanzyTHEbar/chatrelay/relay/intake"
	"github.com/ZanzyTHEbar/chatrelay/relay/messenger"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender records replies.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

// stubCompleter returns a fixed reply or error and records what it saw.
type stubCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	history []transcript.Transcript
}

func (s *stubCompleter) Complete(ctx context.Context, history transcript.Transcript) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, history.Clone())
	return s.reply, s.err
}

// stubDownloader writes nothing but records attachments.
type stubDownloader struct {
	dir  string
	err  error
	seen []messenger.Attachment
}

func (s *stubDownloader) Download(ctx context.Context, att messenger.Attachment) (string, error) {
	s.seen = append(s.seen, att)
	if s.err != nil {
		return "", s.err
	}
	path := filepath.Join(s.dir, att.UniqueID)
	return path, os.WriteFile(path, []byte("data"), 0o600)
}

type fixture struct {
	store      *transcript.Store
	completer  *stubCompleter
	downloader *stubDownloader
	sender     *MockSender
	dispatcher *Dispatcher
	snapshot   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		snapshot:   filepath.Join(dir, "chat_history.json"),
		completer:  &stubCompleter{},
		downloader: &stubDownloader{dir: dir},
		sender:     &MockSender{},
	}
	f.store = transcript.NewStore(transcript.NewFileBackend(f.snapshot))

	d, err := NewDispatcher(f.store, f.completer, f.downloader, f.sender, opts...)
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func (f *fixture) onDisk(t *testing.T) map[string][]map[string]string {
	t.Helper()
	data, err := os.ReadFile(f.snapshot)
	require.NoError(t, err)
	var out map[string][]map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func textEvent(user string, chat int64, text string) messenger.Event {
	return messenger.Event{Kind: messenger.KindText, UserID: user, ChatID: chat, Text: text}
}

func TestTextMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "Hi there"
	f.sender.On("Send", mock.Anything, int64(42), "Hi there").Return(nil).Once()

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "Hello"))

	want := transcript.Transcript{transcript.UserTurn("Hello"), transcript.AssistantTurn("Hi there")}
	assert.Equal(t, want, f.store.Get("42"))
	assert.Equal(t, map[string][]map[string]string{
		"42": {{"role": "user", "content": "Hello"}, {"role": "assistant", "content": "Hi there"}},
	}, f.onDisk(t))
	assert.Equal(t, []transcript.Transcript{{transcript.UserTurn("Hello")}}, f.completer.history)
	f.sender.AssertExpectations(t)
}

func TestTextMessageSendsWholeHistory(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "ok"
	f.sender.On("Send", mock.Anything, int64(42), "ok").Return(nil)

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "one"))
	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "two"))

	require.Len(t, f.completer.history, 2)
	assert.Equal(t, transcript.Transcript{
		transcript.UserTurn("one"),
		transcript.AssistantTurn("ok"),
		transcript.UserTurn("two"),
	}, f.completer.history[1])
}

func TestTextMessageUsesContextWindow(t *testing.T) {
	f := newFixture(t)
	f.store.SetWindow(transcript.Window{MaxTurns: 1})
	f.completer.reply = "ok"
	f.sender.On("Send", mock.Anything, int64(42), "ok").Return(nil)

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "one"))
	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "two"))

	assert.Equal(t, transcript.Transcript{transcript.UserTurn("two")}, f.completer.history[1])
	assert.Len(t, f.store.Get("42"), 4)
}

func TestCompletionFailureKeepsUserTurn(t *testing.T) {
	f := newFixture(t)
	f.completer.err = &generation.CompletionError{Kind: generation.KindTransport, Err: context.DeadlineExceeded}
	f.sender.On("Send", mock.Anything, int64(9), MsgCompletionFailed).Return(nil).Once()

	f.store.AppendTurn("9", transcript.UserTurn("earlier"))
	f.store.AppendTurn("9", transcript.AssistantTurn("answer"))
	f.dispatcher.Handle(context.Background(), textEvent("9", 9, "are you there?"))

	want := transcript.Transcript{
		transcript.UserTurn("earlier"),
		transcript.AssistantTurn("answer"),
		transcript.UserTurn("are you there?"),
	}
	assert.Equal(t, want, f.store.Get("9"))
	assert.Len(t, f.onDisk(t)["9"], 3, "user turn is persisted")
	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestProviderRejectionSendsOneNotice(t *testing.T) {
	f := newFixture(t)
	f.completer.err = &generation.CompletionError{Kind: generation.KindProviderRejected, Status: 401, Detail: "invalid api key"}
	f.sender.On("Send", mock.Anything, int64(42), MsgCompletionFailed).Return(nil).Once()

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "Hello"))

	assert.Equal(t, transcript.Transcript{transcript.UserTurn("Hello")}, f.store.Get("42"))
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestEmptyReplyIsTreatedAsFailure(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = " \n"
	f.sender.On("Send", mock.Anything, int64(42), MsgCompletionFailed).Return(nil).Once()

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "Hello"))

	assert.Equal(t, transcript.Transcript{transcript.UserTurn("Hello")}, f.store.Get("42"))
	assert.Len(t, f.onDisk(t)["42"], 1)
	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestResetCommand(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "Hi there"
	f.sender.On("Send", mock.Anything, int64(42), "Hi there").Return(nil)
	f.sender.On("Send", mock.Anything, int64(42), MsgHistoryCleared).Return(nil).Twice()

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "Hello"))
	reset := messenger.Event{Kind: messenger.KindCommand, Command: CommandReset, UserID: "42", ChatID: 42}
	f.dispatcher.Handle(context.Background(), reset)

	assert.NotContains(t, f.store.Users(), "42")
	assert.NotContains(t, f.onDisk(t), "42")

	// A second reset has the same observable effect.
	f.dispatcher.Handle(context.Background(), reset)
	assert.NotContains(t, f.onDisk(t), "42")
	f.sender.AssertExpectations(t)
}

func TestResetLeavesOtherUsers(t *testing.T) {
	f := newFixture(t)
	f.sender.On("Send", mock.Anything, int64(42), MsgHistoryCleared).Return(nil)
	f.store.AppendTurn("42", transcript.UserTurn("a"))
	f.store.AppendTurn("9", transcript.UserTurn("b"))

	f.dispatcher.Handle(context.Background(), messenger.Event{Kind: messenger.KindCommand, Command: CommandReset, UserID: "42", ChatID: 42})

	assert.Equal(t, transcript.Transcript{transcript.UserTurn("b")}, f.store.Get("9"))
	assert.Contains(t, f.onDisk(t), "9")
}

func TestFileUpload(t *testing.T) {
	f := newFixture(t)
	f.sender.On("Send", mock.Anything, int64(7), "📁 File received: report.pdf").Return(nil).Once()

	f.dispatcher.Handle(context.Background(), messenger.Event{
		Kind:       messenger.KindFile,
		UserID:     "7",
		ChatID:     7,
		Attachment: &messenger.Attachment{FileID: "f-1", UniqueID: "abc123", Name: "report.pdf"},
	})

	assert.FileExists(t, filepath.Join(f.downloader.dir, "abc123"))
	assert.Empty(t, f.store.Get("7"))
	assert.NotContains(t, f.store.Users(), "7")
	f.sender.AssertExpectations(t)
}

func TestFileUploadWithoutName(t *testing.T) {
	f := newFixture(t)
	f.sender.On("Send", mock.Anything, int64(7), "📁 File received: image").Return(nil).Once()

	f.dispatcher.Handle(context.Background(), messenger.Event{
		Kind:       messenger.KindFile,
		UserID:     "7",
		ChatID:     7,
		Attachment: &messenger.Attachment{FileID: "p", UniqueID: "photo1"},
	})

	f.sender.AssertExpectations(t)
}

func TestFileUploadFailures(t *testing.T) {
	f := newFixture(t)
	f.downloader.err = &intake.IntakeError{Kind: intake.KindTransferFailed, UniqueID: "abc123", Err: errors.New("timeout")}
	f.sender.On("Send", mock.Anything, int64(7), MsgIntakeFailed).Return(nil).Once()
	f.sender.On("Send", mock.Anything, int64(7), MsgUnsupportedFile).Return(nil).Once()

	f.dispatcher.Handle(context.Background(), messenger.Event{
		Kind: messenger.KindFile, UserID: "7", ChatID: 7,
		Attachment: &messenger.Attachment{FileID: "f", UniqueID: "abc123"},
	})
	f.dispatcher.Handle(context.Background(), messenger.Event{Kind: messenger.KindFile, UserID: "7", ChatID: 7})

	f.sender.AssertExpectations(t)
	assert.Len(t, f.downloader.seen, 1)
}

func TestUnhandledEventsAreIgnored(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Handle(context.Background(), messenger.Event{Kind: messenger.KindOther, UserID: "7", ChatID: 7})
	f.dispatcher.Handle(context.Background(), messenger.Event{Kind: messenger.KindCommand, Command: "start", UserID: "7", ChatID: 7})

	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.store.Users())
	assert.NoFileExists(t, f.snapshot)
}

func TestRateLimitedMessageIsNotRecorded(t *testing.T) {
	f := newFixture(t, WithRateLimiter(adapters.NewTokenBucket(1, 1<<62)))
	f.completer.reply = "ok"
	f.sender.On("Send", mock.Anything, int64(42), "ok").Return(nil).Once()
	f.sender.On("Send", mock.Anything, int64(42), MsgRateLimited).Return(nil).Once()

	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "first"))
	f.dispatcher.Handle(context.Background(), textEvent("42", 42, "second"))

	assert.Len(t, f.store.Get("42"), 2)
	assert.Len(t, f.completer.history, 1)
	f.sender.AssertExpectations(t)
}

func TestSendFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.completer.reply = "Hi"
	f.sender.On("Send", mock.Anything, int64(42), "Hi").Return(errors.New("chat not found"))

	assert.NotPanics(t, func() {
		f.dispatcher.Handle(context.Background(), textEvent("42", 42, "Hello"))
	})
	assert.Len(t, f.store.Get("42"), 2)
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	store := transcript.NewStore(transcript.NewFileBackend(filepath.Join(t.TempDir(), "h.json")))

	_, err := NewDispatcher(nil, &stubCompleter{}, &stubDownloader{}, &MockSender{})
	assert.Error(t, err)
	_, err = NewDispatcher(store, nil, &stubDownloader{}, &MockSender{})
	assert.Error(t, err)
	_, err = NewDispatcher(store, &stubCompleter{}, nil, &MockSender{})
	assert.Error(t, err)
	_, err = NewDispatcher(store, &stubCompleter{}, &stubDownloader{}, nil)
	assert.Error(t, err)
}
