// Package notify runs the preprocess -> transcribe -> textpipe ->
// emit pipeline for one finished recording, fire-and-forget on a
// background goroutine per session (the Open Question decision
// recorded in DESIGN.md for long-running dispatcher methods).
// internal/session.Tracker is the single gate deciding whether a
// worker's result is still deliverable: a session cancelled mid-flight
// lets the worker run to completion, but its emit becomes a no-op.
package notify

import (
	"context"
	"time"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/audiopipe"
	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/observability"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/session"
	"github.com/openvoicy/sidecar/internal/textpipe"
)

// transcribeTimeout bounds one worker's asr.Engine.Transcribe call so a
// wedged backend can't leak goroutines forever.
const transcribeTimeout = 2 * time.Minute

// Transcriber is the subset of *asr.Engine this package depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (asr.TranscriptionResult, error)
}

// Notifier is the subset of *protocol.Writer this package depends on.
type Notifier interface {
	WriteNotification(n *protocol.Notification) error
}

// Job describes one finished recording ready for background processing.
type Job struct {
	SessionID      string
	Samples        []float32
	SourceRate     int
	SourceChannels int
	Rules          []textpipe.Rule
}

// Dispatcher submits Jobs to per-session background workers.
type Dispatcher struct {
	tracker      *session.Tracker
	writer       Notifier
	transcriber  Transcriber
	pipelineOpts audiopipe.Options
	metrics      *observability.Metrics
}

// NewDispatcher builds a Dispatcher. opts configures the audiopipe
// preprocessing stage (resample/downmix/trim) applied before transcription.
// metrics may be nil.
func NewDispatcher(tracker *session.Tracker, writer Notifier, transcriber Transcriber, opts audiopipe.Options, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{tracker: tracker, writer: writer, transcriber: transcriber, pipelineOpts: opts, metrics: metrics}
}

// Submit starts background processing for job and returns immediately.
func (d *Dispatcher) Submit(job Job) {
	go d.run(job)
}

func (d *Dispatcher) run(job Job) {
	start := time.Now()
	if !d.tracker.ShouldEmit(job.SessionID) {
		return
	}

	prepared, err := audiopipe.Process(job.Samples, job.SourceRate, job.SourceChannels, d.pipelineOpts)
	if err != nil {
		d.emitError(job.SessionID, protocol.NewError(protocol.KindTranscribe, "audio preprocessing failed: "+err.Error(), nil))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()
	result, err := d.transcriber.Transcribe(ctx, prepared, audiopipe.TargetSampleRate)
	if err != nil {
		d.emitError(job.SessionID, protocol.AsSidecarError(err))
		return
	}

	text := result.Text
	if processed, perr := textpipe.Process(result.Text, job.Rules, time.Now()); perr == nil {
		text = processed.Text
	}

	if !d.tracker.MarkCompleted(job.SessionID) {
		return
	}

	payload := contracts.TranscriptionCompletePayload{
		SessionID:  job.SessionID,
		Text:       text,
		DurationMs: int64(result.DurationMs),
	}
	if result.Confidence != nil {
		payload.Confidence = result.Confidence
	}
	if result.Language != "" {
		lang := result.Language
		payload.Language = &lang
	}
	rawText := result.Text
	payload.RawText = &rawText
	finalText := text
	payload.FinalText = &finalText

	d.metrics.ObserveTranscriptionLatency(time.Since(start))
	d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventTranscriptionComplete), payload))
}

func (d *Dispatcher) emitError(sessionID string, se *protocol.SidecarError) {
	if !d.tracker.MarkError(sessionID) {
		return
	}
	payload := contracts.TranscriptionErrorPayload{
		SessionID: sessionID,
		Kind:      string(se.Kind),
		Message:   se.Message,
		Data:      se.Data,
	}
	d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventTranscriptionError), payload))
}
