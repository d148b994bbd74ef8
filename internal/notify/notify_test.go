package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/audiopipe"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/session"
)

type fakeTranscriber struct {
	result asr.TranscriptionResult
	err    error
}

func (f fakeTranscriber) Transcribe(_ context.Context, _ []float32, _ int) (asr.TranscriptionResult, error) {
	return f.result, f.err
}

type recordingWriter struct {
	mu            sync.Mutex
	notifications []*protocol.Notification
}

func (w *recordingWriter) WriteNotification(n *protocol.Notification) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifications = append(w.notifications, n)
	return nil
}

func (w *recordingWriter) snapshot() []*protocol.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*protocol.Notification, len(w.notifications))
	copy(out, w.notifications)
	return out
}

func waitForNotification(t *testing.T, w *recordingWriter) *protocol.Notification {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n := w.snapshot(); len(n) > 0 {
			return n[0]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for notification")
	return nil
}

func TestDispatcherEmitsCompleteOnSuccess(t *testing.T) {
	tracker := session.NewTracker(time.Minute)
	tracker.Register("sess-1")
	writer := &recordingWriter{}
	transcriber := fakeTranscriber{result: asr.TranscriptionResult{Text: "hello world", DurationMs: 42}}

	d := NewDispatcher(tracker, writer, transcriber, audiopipe.Options{}, nil)
	d.Submit(Job{SessionID: "sess-1", Samples: []float32{0.1, 0.2}, SourceRate: 16000, SourceChannels: 1})

	n := waitForNotification(t, writer)
	if n.Method != "event.transcription_complete" {
		t.Fatalf("unexpected method %s", n.Method)
	}
	state, _ := tracker.GetState("sess-1")
	if state != session.StateCompleted {
		t.Fatalf("expected completed state, got %s", state)
	}
}

func TestDispatcherEmitsErrorOnTranscribeFailure(t *testing.T) {
	tracker := session.NewTracker(time.Minute)
	tracker.Register("sess-2")
	writer := &recordingWriter{}
	transcriber := fakeTranscriber{err: protocol.NewError(protocol.KindTranscribe, "boom", nil)}

	d := NewDispatcher(tracker, writer, transcriber, audiopipe.Options{}, nil)
	d.Submit(Job{SessionID: "sess-2", Samples: []float32{0.1}, SourceRate: 16000, SourceChannels: 1})

	n := waitForNotification(t, writer)
	if n.Method != "event.transcription_error" {
		t.Fatalf("unexpected method %s", n.Method)
	}
}

func TestDispatcherSuppressesEmitForCancelledSession(t *testing.T) {
	tracker := session.NewTracker(time.Minute)
	tracker.Register("sess-3")
	tracker.MarkCancelled("sess-3")
	writer := &recordingWriter{}
	transcriber := fakeTranscriber{result: asr.TranscriptionResult{Text: "should not be seen"}}

	d := NewDispatcher(tracker, writer, transcriber, audiopipe.Options{}, nil)
	d.Submit(Job{SessionID: "sess-3", Samples: []float32{0.1}, SourceRate: 16000, SourceChannels: 1})

	time.Sleep(50 * time.Millisecond)
	if len(writer.snapshot()) != 0 {
		t.Fatal("expected no notification for a cancelled session")
	}
}

func TestDispatcherUnknownErrorMapsToSidecarError(t *testing.T) {
	tracker := session.NewTracker(time.Minute)
	tracker.Register("sess-4")
	writer := &recordingWriter{}
	transcriber := fakeTranscriber{err: errors.New("plain error")}

	d := NewDispatcher(tracker, writer, transcriber, audiopipe.Options{}, nil)
	d.Submit(Job{SessionID: "sess-4", Samples: []float32{0.1}, SourceRate: 16000, SourceChannels: 1})

	n := waitForNotification(t, writer)
	if n.Method != "event.transcription_error" {
		t.Fatalf("unexpected method %s", n.Method)
	}
}
