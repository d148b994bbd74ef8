package dispatcher

import (
	"encoding/json"

	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/textpipe"
)

func handleReplacementsGetRules(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	return map[string]any{"rules": d.snapshotRules()}, nil
}

func handleReplacementsSetRules(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		Rules []textpipe.Rule `json:"rules"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	if err := textpipe.ValidateRules(p.Rules); err != nil {
		return nil, protocol.NewError(protocol.KindInvalidParams, "invalid rules: "+err.Error(), nil)
	}

	d.rulesMu.Lock()
	d.rules = p.Rules
	d.rulesMu.Unlock()

	return map[string]any{"rules": p.Rules}, nil
}

func handleReplacementsGetPresets(d *Dispatcher, _ json.RawMessage) (any, *protocol.SidecarError) {
	type presetSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	summaries := make([]presetSummary, 0, len(d.presets))
	for _, p := range d.presets {
		summaries = append(summaries, presetSummary{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	return map[string]any{"presets": summaries}, nil
}

func handleReplacementsGetPresetRules(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		PresetID string `json:"preset_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}
	for _, preset := range d.presets {
		if preset.ID == p.PresetID {
			return map[string]any{"rules": preset.NamespacedRules()}, nil
		}
	}
	return nil, protocol.NewError(protocol.KindInvalidParams, "unknown preset_id", map[string]any{"preset_id": p.PresetID})
}

func handleReplacementsPreview(d *Dispatcher, params json.RawMessage) (any, *protocol.SidecarError) {
	var p struct {
		Text  string          `json:"text"`
		Rules []textpipe.Rule `json:"rules"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewError(protocol.KindInvalidParams, "invalid params", nil)
		}
	}

	rules := p.Rules
	if rules == nil {
		rules = d.snapshotRules()
	}
	if err := textpipe.ValidateRules(rules); err != nil {
		return nil, protocol.NewError(protocol.KindInvalidParams, "invalid rules: "+err.Error(), nil)
	}

	result, err := textpipe.Preview(p.Text, rules)
	if err != nil {
		return nil, protocol.NewError(protocol.KindInvalidParams, "preview failed: "+err.Error(), nil)
	}
	return map[string]any{"text": result.Text, "truncated": result.Truncated}, nil
}
