package dispatcher

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/openvoicy/sidecar/internal/asr"
	_ "github.com/openvoicy/sidecar/internal/asr/mockbackend"
	"github.com/openvoicy/sidecar/internal/audio"
	"github.com/openvoicy/sidecar/internal/audiopipe"
	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/modelcache"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/session"
)

func testDevices() []audio.Device {
	return []audio.Device{{UID: "dev-1", Name: "Test Mic", IsDefault: true, DefaultSampleRate: 16000, Channels: 1}}
}

func mockManifestLoader(modelID string) (*modelcache.Manifest, error) {
	return &modelcache.Manifest{ModelID: modelID, ModelFamily: "mock"}, nil
}

func newTestDispatcher(t *testing.T, chunks []audio.Chunk) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	writer := protocol.NewWriter(&out)
	devices := audio.NewManager(audio.NewMockLister(testDevices()))
	recorder := audio.NewRecorder(audio.NewMockCapturerFactory(16000, 1, chunks))
	meter := audio.NewMeter(audio.NewMockCapturerFactory(16000, 1, chunks))
	tracker := session.NewTracker(0)
	cache := modelcache.NewCache(t.TempDir())
	engine := asr.NewEngine(cache, mockManifestLoader)
	engine.SetCUDAAvailable(func() bool { return false })

	d := New(Options{
		Version:         "test",
		Writer:          writer,
		Devices:         devices,
		Recorder:        recorder,
		Meter:           meter,
		Tracker:         tracker,
		Engine:          engine,
		Cache:           cache,
		FramesPerBuffer: 256,
		AudiopipeOptions: audiopipe.Options{},
	})
	return d, &out
}

func decodeNotifications(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var notifications []map[string]any
	for _, line := range bytes.Split(out.Bytes(), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		if _, isNotif := m["method"]; isNotif {
			notifications = append(notifications, m)
		}
	}
	return notifications
}

func waitForTranscriptionTerminal(t *testing.T, out *bytes.Buffer, sessionID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range decodeNotifications(t, out) {
			method, _ := n["method"].(string)
			if method != string(contracts.EventTranscriptionComplete) && method != string(contracts.EventTranscriptionError) {
				continue
			}
			params, _ := n["params"].(map[string]any)
			if params["session_id"] == sessionID {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for terminal event for session %s", sessionID)
	return nil
}

func call(t *testing.T, d *Dispatcher, method contracts.Method, params any) (any, *protocol.SidecarError) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	req := &protocol.Request{JSONRPC: "2.0", Method: string(method), Params: raw}
	return d.dispatch(req)
}

func TestHappyPathRecordingProducesTranscriptionComplete(t *testing.T) {
	chunks := []audio.Chunk{{Samples: make([]float32, 1600), Channels: 1}}
	d, out := newTestDispatcher(t, chunks)

	if _, se := call(t, d, contracts.MethodASRInitialize, map[string]any{"model_id": "m1", "device_pref": "cpu"}); se != nil {
		t.Fatalf("asr.initialize failed: %v", se)
	}

	res, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "S1"})
	if se != nil {
		t.Fatalf("recording.start failed: %v", se)
	}
	if res.(map[string]string)["session_id"] != "S1" {
		t.Fatalf("unexpected session id: %+v", res)
	}

	time.Sleep(20 * time.Millisecond)

	if _, se := call(t, d, contracts.MethodRecordingStop, map[string]any{"session_id": "S1"}); se != nil {
		t.Fatalf("recording.stop failed: %v", se)
	}

	n := waitForTranscriptionTerminal(t, out, "S1")
	if n["method"] != string(contracts.EventTranscriptionComplete) {
		t.Fatalf("expected transcription_complete, got %v", n["method"])
	}
}

func TestCancelSuppressesTranscriptionEmit(t *testing.T) {
	chunks := []audio.Chunk{{Samples: make([]float32, 1600), Channels: 1}}
	d, out := newTestDispatcher(t, chunks)

	if _, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "S2"}); se != nil {
		t.Fatalf("recording.start failed: %v", se)
	}

	res, se := call(t, d, contracts.MethodRecordingCancel, map[string]any{"session_id": "S2"})
	if se != nil {
		t.Fatalf("recording.cancel failed: %v", se)
	}
	if res.(map[string]any)["cancelled"] != true {
		t.Fatalf("expected cancelled=true, got %+v", res)
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, n := range decodeNotifications(t, out) {
			method, _ := n["method"].(string)
			if method == string(contracts.EventTranscriptionComplete) || method == string(contracts.EventTranscriptionError) {
				params, _ := n["params"].(map[string]any)
				if params["session_id"] == "S2" {
					t.Fatalf("unexpected terminal event for cancelled session: %v", n)
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	if _, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "A"}); se != nil {
		t.Fatalf("first recording.start failed: %v", se)
	}

	_, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "B"})
	if se == nil || se.Kind != protocol.KindAlreadyRecording {
		t.Fatalf("expected E_ALREADY_RECORDING, got %v", se)
	}

	res, se := call(t, d, contracts.MethodStatusGet, map[string]any{})
	if se != nil {
		t.Fatalf("status.get failed: %v", se)
	}
	status := res.(contracts.StatusResult)
	if status.State != "recording" || status.SessionID == nil || *status.SessionID != "A" {
		t.Fatalf("expected recording state with session A, got %+v", status)
	}
}

func TestWrongSessionOnStopRejected(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	if _, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "X"}); se != nil {
		t.Fatalf("recording.start failed: %v", se)
	}

	_, se := call(t, d, contracts.MethodRecordingStop, map[string]any{"session_id": "Y"})
	if se == nil || se.Kind != protocol.KindInvalidSession {
		t.Fatalf("expected E_INVALID_SESSION, got %v", se)
	}

	res, se := call(t, d, contracts.MethodStatusGet, map[string]any{})
	if se != nil {
		t.Fatalf("status.get failed: %v", se)
	}
	status := res.(contracts.StatusResult)
	if status.State != "recording" || status.SessionID == nil || *status.SessionID != "X" {
		t.Fatalf("expected session X to remain active, got %+v", status)
	}
}

func TestMeterAndRecordingMutuallyExclusive(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	if _, se := call(t, d, contracts.MethodAudioMeterStart, map[string]any{}); se != nil {
		t.Fatalf("audio.meter_start failed: %v", se)
	}

	_, se := call(t, d, contracts.MethodRecordingStart, map[string]any{"session_id": "M1"})
	if se == nil || se.Kind != protocol.KindAlreadyRunning {
		t.Fatalf("expected E_ALREADY_RUNNING, got %v", se)
	}

	if _, se := call(t, d, contracts.MethodAudioMeterStop, map[string]any{}); se != nil {
		t.Fatalf("audio.meter_stop failed: %v", se)
	}
}

func TestAllRequiredAndOptionalMethodsAreRegistered(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	for _, m := range contracts.RequiredMethods {
		if _, ok := d.handlers[m]; !ok {
			t.Errorf("required method %s has no registered handler", m)
		}
	}
	for _, m := range contracts.OptionalMethods {
		if _, ok := d.handlers[m]; !ok {
			t.Errorf("optional method %s has no registered handler", m)
		}
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	_, se := call(t, d, contracts.Method("bogus.method"), map[string]any{})
	if se == nil || se.Kind != protocol.KindMethodNotFound {
		t.Fatalf("expected E_METHOD_NOT_FOUND, got %v", se)
	}
}
