package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openvoicy/sidecar/internal/contracts"
	"github.com/openvoicy/sidecar/internal/protocol"
)

func handleModelGetStatus(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		ModelID string `json:"model_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	if p.ModelID == "" {
		return nil, protocol.NewError(protocol.KindInvalidParams, "model_id is required", nil)
	}

	st := d.engine.Status()
	status := "missing"
	switch {
	case st.ModelID == p.ModelID:
		status = engineStateToModelStatus(st.State)
	case d.cache.IsInstalled(p.ModelID):
		status = "ready"
	}
	return contracts.ModelStatusPayload{ModelID: p.ModelID, Status: status}, nil
}

func handleModelDownload(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		ModelID string `json:"model_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	if p.ModelID == "" {
		return nil, protocol.NewError(protocol.KindInvalidParams, "model_id is required", nil)
	}

	if d.cache.IsInstalled(p.ModelID) {
		return contracts.ModelStatusPayload{ModelID: p.ModelID, Status: "ready"}, nil
	}

	manifest, err := d.loadManifest(p.ModelID)
	if err != nil {
		return nil, protocol.NewError(protocol.KindInternal, "failed to load model manifest: "+err.Error(), map[string]any{"model_id": p.ModelID})
	}

	var lastCurrent int64
	onProgress := func(payload contracts.ModelProgressPayload) {
		if payload.Current > lastCurrent {
			d.metrics.ObserveModelDownloadBytes(p.ModelID, payload.Current-lastCurrent)
			lastCurrent = payload.Current
		}
		d.writer.WriteNotification(protocol.NewNotification(string(contracts.EventModelProgress), payload))
	}
	start := time.Now()
	if err := d.cache.Install(context.Background(), manifest, onProgress); err != nil {
		return nil, protocol.AsSidecarError(err)
	}
	d.metrics.ObserveStage("model_download", time.Since(start))
	return contracts.ModelStatusPayload{ModelID: p.ModelID, Status: "ready"}, nil
}

func handleModelPurgeCache(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		ModelID string `json:"model_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}

	inUse := func(modelID string) bool {
		st := d.engine.Status()
		return st.ModelID == modelID && st.Ready
	}

	if p.ModelID != "" && inUse(p.ModelID) {
		return nil, protocol.NewError(protocol.KindModelInUse, "model is currently loaded by the ASR engine", map[string]any{"model_id": p.ModelID})
	}

	if err := d.cache.PurgeCache(p.ModelID, inUse); err != nil {
		return nil, protocol.AsSidecarError(err)
	}
	return map[string]any{}, nil
}
