package contracts

// Capability names advertised in system.info's capabilities list. The
// set is always a superset of {asr, replacements, meter} (§6).
const (
	CapabilityASR          = "asr"
	CapabilityReplacements = "replacements"
	CapabilityMeter        = "meter"
)

// RuntimeInfo describes the host runtime in system.info.
type RuntimeInfo struct {
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`
	CudaAvailable  bool   `json:"cuda_available"`
}

// ResourcePaths mirrors the shared-resource resolver's well-known keys
// for diagnostic display in system.info.
type ResourcePaths struct {
	SharedRoot    string `json:"shared_root"`
	Presets       string `json:"presets"`
	ModelManifest string `json:"model_manifest"`
	ModelCatalog  string `json:"model_catalog"`
	ContractsDir  string `json:"contracts_dir"`
}

// SystemInfo is the result shape for system.info (§6).
type SystemInfo struct {
	Version       string        `json:"version"`
	Protocol      string        `json:"protocol"`
	Capabilities  []string      `json:"capabilities"`
	Runtime       RuntimeInfo   `json:"runtime"`
	ResourcePaths ResourcePaths `json:"resource_paths"`
}

// RecordingStopResult is the result shape for recording.stop (§6).
type RecordingStopResult struct {
	SessionID     string `json:"session_id"`
	AudioDuration int64  `json:"audio_duration_ms"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
}

// TranscriptionCompletePayload is the event.transcription_complete
// notification payload (§6).
type TranscriptionCompletePayload struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	DurationMs int64   `json:"duration_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
	Language   *string  `json:"language,omitempty"`
	RawText    *string  `json:"raw_text,omitempty"`
	FinalText  *string  `json:"final_text,omitempty"`
}

// TranscriptionErrorPayload is the event.transcription_error payload.
type TranscriptionErrorPayload struct {
	SessionID string         `json:"session_id"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ModelProgressPayload is the event.model_progress payload (§4.9).
type ModelProgressPayload struct {
	ModelID        string `json:"model_id"`
	Current        int64  `json:"current"`
	Total          int64  `json:"total"`
	Unit           string `json:"unit"`
	CurrentFile    string `json:"current_file"`
	FilesCompleted int    `json:"files_completed"`
	FilesTotal     int    `json:"files_total"`
}

// StatusChangedPayload is the event.status_changed payload.
type StatusChangedPayload struct {
	State string `json:"state"`
}

// AudioLevelPayload is the event.audio_level payload, shared by the
// standalone meter and the recorder's own level reporting (§4.5).
type AudioLevelPayload struct {
	RMS       float64 `json:"rms"`
	Peak      float64 `json:"peak"`
	Source    string  `json:"source"`
	SessionID string  `json:"session_id,omitempty"`
}

// ModelStatusPayload is the {model_id, status} shape embedded in
// status.get and returned directly by model.get_status (§4.4).
type ModelStatusPayload struct {
	ModelID string `json:"model_id"`
	Status  string `json:"status"`
}

// StatusResult is the result shape for status.get (§4.4's status
// mapping). SessionID is set only while a recording is active.
type StatusResult struct {
	State     string              `json:"state"`
	SessionID *string             `json:"session_id,omitempty"`
	Model     *ModelStatusPayload `json:"model,omitempty"`
}
