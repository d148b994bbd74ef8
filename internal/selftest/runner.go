package selftest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/itchyny/gojq"

	"github.com/openvoicy/sidecar/internal/resources"
)

// Probe is one live JSON-RPC round trip plus a jq assertion against
// the decoded response envelope (§4.12).
type Probe struct {
	Name   string
	Method string
	Params any
	// Assert is a jq expression evaluated against
	// {"result": <result>, "error": <error-or-null>}. A truthy result
	// passes the probe.
	Assert string
}

// requiredProbes is the fixed method+assertion list spec.md §4.12
// names: system.ping, system.info, status.get, replacements.get_rules.
var requiredProbes = []Probe{
	{Name: "system.ping", Method: "system.ping", Assert: `.result.protocol == "v1"`},
	{Name: "system.info", Method: "system.info", Assert: `.result.protocol == "v1" and (.result.capabilities | type) == "array"`},
	{Name: "status.get", Method: "status.get", Assert: `.result.state != null`},
	{Name: "replacements.get_rules", Method: "replacements.get_rules", Assert: `(.result.rules | type) == "array"`},
}

// Result is one probe's outcome.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Elapsed  time.Duration
}

// Report is the full self-test run, rendered by Render.
type Report struct {
	Results  []Result
	ExitCode int
	ExitErr  error
}

func (r Report) Passed() bool {
	if r.ExitErr != nil || r.ExitCode != 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Options configures a self-test run.
type Options struct {
	// Command and Args spawn the sidecar under test, e.g.
	// OPENVOICY_SIDECAR_COMMAND split into argv.
	Command string
	Args    []string
	Timeout time.Duration
	// DevRoot, if non-empty, is passed to resources.Resolver the same
	// way the running sidecar would resolve it (dev-checkout layout).
	DevRoot string
}

// Run spawns the sidecar, exercises the required probe list with a
// retried first ping, checks the four static resources, then issues
// system.shutdown and waits for a clean exit (§4.12).
func Run(ctx context.Context, opts Options) Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := startClient(ctx, opts.Command, opts.Args)
	if err != nil {
		return Report{ExitErr: fmt.Errorf("spawn: %w", err), ExitCode: -1}
	}

	var results []Result

	results = append(results, runFirstPing(ctx, c))
	for _, p := range requiredProbes[1:] {
		results = append(results, runProbe(ctx, c, p))
	}
	results = append(results, staticResourceResults(resources.NewResolver(opts.DevRoot))...)

	shutdownStart := time.Now()
	_, callErr := c.call(ctx, "system.shutdown", map[string]string{"reason": "self-test"})
	shutdownResult := Result{Name: "system.shutdown", Elapsed: time.Since(shutdownStart)}
	if callErr != nil {
		shutdownResult.Detail = callErr.Error()
	} else {
		shutdownResult.Passed = true
	}
	results = append(results, shutdownResult)

	exitCode, exitErr := c.close(opts.Timeout)

	return Report{Results: results, ExitCode: exitCode, ExitErr: exitErr}
}

// runFirstPing retries system.ping up to 3 times with backoff,
// tolerating a cold-starting process (§4.12).
func runFirstPing(ctx context.Context, c *client) Result {
	start := time.Now()
	probe := requiredProbes[0]

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		msg, callErr := c.call(ctx, probe.Method, probe.Params)
		if callErr != nil {
			return struct{}{}, callErr
		}
		ok, assertErr := evalAssert(probe.Assert, msg)
		if assertErr != nil {
			return struct{}{}, backoff.Permanent(assertErr)
		}
		if !ok {
			return struct{}{}, fmt.Errorf("assertion failed: %s", probe.Assert)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)

	res := Result{Name: probe.Name, Elapsed: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

func runProbe(ctx context.Context, c *client, p Probe) Result {
	start := time.Now()
	msg, err := c.call(ctx, p.Method, p.Params)
	res := Result{Name: p.Name, Elapsed: time.Since(start)}
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	ok, assertErr := evalAssert(p.Assert, msg)
	if assertErr != nil {
		res.Detail = assertErr.Error()
		return res
	}
	if !ok {
		res.Detail = fmt.Sprintf("assertion failed: %s", p.Assert)
		return res
	}
	res.Passed = true
	return res
}

// evalAssert decodes msg into {"result":..., "error":...} and runs expr
// against it with gojq, grounded on the jq-expression-as-assertion
// idiom used for response shape-checking elsewhere in the pack.
func evalAssert(expr string, msg rawMessage) (bool, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid assertion %q: %w", expr, err)
	}

	var decoded struct {
		Result any `json:"result"`
		Error  any `json:"error"`
	}
	if len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, &decoded.Result); err != nil {
			return false, fmt.Errorf("decoding result: %w", err)
		}
	}
	if msg.Error != nil {
		decoded.Error = map[string]any{
			"code": msg.Error.Code, "message": msg.Error.Message, "data": msg.Error.Data,
		}
	}

	raw, err := json.Marshal(decoded)
	if err != nil {
		return false, err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return false, err
	}

	iter := query.Run(input)
	v, hasResult := iter.Next()
	if !hasResult {
		return false, fmt.Errorf("assertion %q produced no result", expr)
	}
	if errv, ok := v.(error); ok {
		return false, fmt.Errorf("assertion %q error: %w", expr, errv)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("assertion %q did not evaluate to a boolean, got %T", expr, v)
	}
	return b, nil
}

// staticResourceResults checks that the four shared resources §4.12
// names are resolvable: presets, model manifest, model catalog, and
// the contracts directory.
func staticResourceResults(r *resources.Resolver) []Result {
	checks := []struct {
		name string
		rel  string
	}{
		{"resource:presets", resources.PresetsRel},
		{"resource:model_manifest", resources.ModelManifestRel},
		{"resource:model_catalog", resources.ModelCatalogRel},
		{"resource:contracts_dir", resources.ContractsDirRel},
	}
	out := make([]Result, 0, len(checks))
	for _, chk := range checks {
		res := Result{Name: chk.name}
		path, err := r.Resolve(chk.rel)
		if err != nil {
			res.Detail = err.Error()
		} else {
			res.Passed = true
			res.Detail = path
		}
		out = append(out, res)
	}
	return out
}

// SplitCommand splits a single OPENVOICY_SIDECAR_COMMAND string into
// argv using simple whitespace rules (no quoting support needed: the
// command is operator-configured, not user input).
func SplitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
