package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/openvoicy/sidecar/internal/asr"
	"github.com/openvoicy/sidecar/internal/protocol"
)

func handleASRInitialize(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		ModelID    string `json:"model_id"`
		DevicePref string `json:"device_pref"`
		Language   string `json:"language"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	if p.ModelID == "" {
		return nil, protocol.NewError(protocol.KindInvalidParams, "model_id is required", nil)
	}

	pref := asr.DeviceAuto
	switch asr.DevicePreference(p.DevicePref) {
	case asr.DeviceCUDA:
		pref = asr.DeviceCUDA
	case asr.DeviceCPU:
		pref = asr.DeviceCPU
	}

	status, err := d.engine.Initialize(context.Background(), p.ModelID, pref, p.Language)
	if err != nil {
		return nil, protocol.AsSidecarError(err)
	}
	return status, nil
}

func handleASRStatus(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	return d.engine.Status(), nil
}
