package textpipe

import "time"

// Result is the output of running the full three-stage pipeline.
type Result struct {
	Text      string
	Truncated bool
}

// Process runs the locked three-stage pipeline: normalize, macro
// expand, replacement rules (§4.8). The idempotence property (P6) and
// the single-pass property (P7) are the replacement stage's contract;
// stages 1 and 2 are already idempotent by construction.
func Process(text string, rules []Rule, at time.Time) (Result, error) {
	text = Normalize(text)
	text = ExpandMacros(text, at)
	out, truncated, err := ApplyRules(text, rules)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: out, Truncated: truncated}, nil
}

// Preview runs Process without requiring a live session — used by
// replacements.preview (§4.2) so a host can test a candidate rule set
// against arbitrary text before committing it.
func Preview(text string, rules []Rule) (Result, error) {
	return Process(text, rules, time.Now())
}
