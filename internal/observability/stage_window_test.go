package observability

import "testing"

func TestStageWindowComputesPercentiles(t *testing.T) {
	w := newStageWindow(8)
	for _, ms := range []float64{100, 200, 300, 400, 500} {
		w.Observe("model_download", ms)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(snap.Stages))
	}
	stage := snap.Stages[0]
	if stage.Stage != "model_download" {
		t.Fatalf("unexpected stage name %q", stage.Stage)
	}
	if stage.Samples != 5 {
		t.Fatalf("expected 5 samples, got %d", stage.Samples)
	}
	if stage.LastMS != 500 {
		t.Fatalf("expected last=500, got %v", stage.LastMS)
	}
	if stage.AvgMS != 300 {
		t.Fatalf("expected avg=300, got %v", stage.AvgMS)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := newStageWindow(3)
	for _, ms := range []float64{1, 2, 3, 4, 5} {
		w.Observe("recording_stop_to_terminal", ms)
	}

	snap := w.Snapshot()
	stage := snap.Stages[0]
	if stage.Samples != 3 {
		t.Fatalf("expected window capped at 3 samples, got %d", stage.Samples)
	}
	if stage.LastMS != 5 {
		t.Fatalf("expected last=5, got %v", stage.LastMS)
	}
}

func TestStageWindowIgnoresEmptyStageAndNegativeDuration(t *testing.T) {
	w := newStageWindow(4)
	w.Observe("", 100)
	w.Observe("x", -5)

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("expected no stages recorded, got %+v", snap.Stages)
	}
}

func TestMetricsObserveHelpersToleratenilReceiver(t *testing.T) {
	var m *Metrics
	// None of these should panic on a nil *Metrics, mirroring the
	// teacher's nil-tolerant observer idiom for optional instrumentation.
	m.ObserveRequest("system.ping")
	m.ObserveRequestError("system.ping", "E_INTERNAL")
	m.SetActiveRecordings(true)
	m.SetMeterActive(false)
	m.ObserveModelDownloadBytes("m1", 10)
	if got := m.SnapshotStages(); len(got.Stages) != 0 {
		t.Fatalf("expected empty snapshot on nil receiver, got %+v", got)
	}
}
