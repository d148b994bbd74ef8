package dispatcher

import (
	"encoding/json"
	"runtime"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/protocol"
)

func handleSystemPing(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	return map[string]string{
		"version":  d.version,
		"protocol": contracts.ProtocolVersion,
	}, nil
}

func handleSystemInfo(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	info := contracts.SystemInfo{
		Version:  d.version,
		Protocol: contracts.ProtocolVersion,
		Capabilities: []string{
			contracts.CapabilityASR,
			contracts.CapabilityReplacements,
			contracts.CapabilityMeter,
		},
		Runtime: contracts.RuntimeInfo{
			RuntimeVersion: runtime.Version(),
			Platform:       runtime.GOOS,
			CudaAvailable:  cudaAvailable(),
		},
		ResourcePaths: d.resourcePaths(),
	}
	for _, m := range contracts.OptionalMethods {
		if _, ok := d.handlers[m]; ok {
			info.Capabilities = append(info.Capabilities, string(m))
		}
	}
	return info, nil
}

func handleSystemShutdown(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		Reason string `json:"reason"`
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	reason := p.Reason
	if reason == "" {
		reason = "requested"
	}
	d.logger.Printf("shutdown requested: %s", reason)
	return map[string]string{"status": "shutting_down"}, nil
}

func handleStatusGet(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	return d.buildStatus(), nil
}

func (d *Dispatcher) buildStatus() contracts.StatusResult {
	d.recMu.Lock()
	var sessionID *string
	if d.recording != nil {
		sid := d.recording.sessionID
		sessionID = &sid
	}
	recording := d.recording != nil
	d.recMu.Unlock()

	st := d.engine.Status()

	state := "idle"
	switch {
	case recording:
		state = "recording"
	case d.tracker.HasPending():
		state = "transcribing"
	case st.State == asr.StateDownloading || st.State == asr.StateLoading:
		state = "loading_model"
	case st.State == asr.StateError:
		state = "error"
	}

	result := contracts.StatusResult{State: state, SessionID: sessionID}
	if st.ModelID != "" {
		result.Model = &contracts.ModelStatusPayload{
			ModelID: st.ModelID,
			Status:  engineStateToModelStatus(st.State),
		}
	}
	return result
}
