package textpipe

import "fmt"

// Preset is a named, described bundle of rules loaded from a JSON
// catalog (§3). A preset's own rules are namespaced as
// "<preset_id>:<rule_id>" when merged into an active rule set.
type Preset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rules       []Rule `json:"rules"`
}

// NamespacedRules returns p's rules with ids rewritten to
// "<preset_id>:<rule_id>".
func (p Preset) NamespacedRules() []Rule {
	out := make([]Rule, len(p.Rules))
	for i, r := range p.Rules {
		r.ID = fmt.Sprintf("%s:%s", p.ID, r.ID)
		r.Origin = p.ID
		out[i] = r
	}
	return out
}
