package selftest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/openvoicy/sidecar/internal/resources"
)

func TestEvalAssertOnResult(t *testing.T) {
	msg := rawMessage{Result: json.RawMessage(`{"protocol":"v1","capabilities":["asr"]}`)}
	ok, err := evalAssert(`.result.protocol == "v1" and (.result.capabilities | type) == "array"`, msg)
	if err != nil {
		t.Fatalf("evalAssert error: %v", err)
	}
	if !ok {
		t.Fatal("expected assertion to pass")
	}
}

func TestEvalAssertOnError(t *testing.T) {
	msg := rawMessage{Error: &rawError{Code: -32000, Message: "boom"}}
	ok, err := evalAssert(`.result.protocol == "v1"`, msg)
	if err != nil {
		t.Fatalf("evalAssert error: %v", err)
	}
	if ok {
		t.Fatal("expected assertion to fail against an error response")
	}
}

func TestEvalAssertRejectsBadExpression(t *testing.T) {
	msg := rawMessage{Result: json.RawMessage(`{}`)}
	if _, err := evalAssert(`.result..[`, msg); err == nil {
		t.Fatal("expected parse error for malformed jq expression")
	}
}

func TestSplitCommand(t *testing.T) {
	cmd, args := SplitCommand("  ./sidecar serve --debug  ")
	if cmd != "./sidecar" {
		t.Fatalf("cmd = %q, want ./sidecar", cmd)
	}
	if len(args) != 2 || args[0] != "serve" || args[1] != "--debug" {
		t.Fatalf("args = %v", args)
	}
}

func TestSplitCommandEmpty(t *testing.T) {
	cmd, args := SplitCommand("   ")
	if cmd != "" || args != nil {
		t.Fatalf("expected empty command/args, got %q %v", cmd, args)
	}
}

func TestStaticResourceResultsAllResolvable(t *testing.T) {
	dev := t.TempDir()
	mustWrite(t, filepath.Join(dev, "shared", "replacements", "PRESETS.json"), "[]")
	mustWrite(t, filepath.Join(dev, "shared", "model", "MODEL_MANIFEST.json"), "{}")
	mustWrite(t, filepath.Join(dev, "shared", "model", "MODEL_CATALOG.json"), "{}")
	mustWrite(t, filepath.Join(dev, "shared", "contracts", ".keep"), "")

	results := staticResourceResults(resources.NewResolver(dev))
	if len(results) != 4 {
		t.Fatalf("expected 4 resource checks, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("resource check %s failed: %s", r.Name, r.Detail)
		}
	}
}

func TestStaticResourceResultsMissing(t *testing.T) {
	dev := t.TempDir()
	results := staticResourceResults(resources.NewResolver(dev))
	for _, r := range results {
		if r.Passed {
			t.Errorf("resource check %s unexpectedly passed with no shared/ tree", r.Name)
		}
	}
}

func TestReportPassed(t *testing.T) {
	ok := Report{Results: []Result{{Name: "a", Passed: true}}, ExitCode: 0}
	if !ok.Passed() {
		t.Fatal("expected Passed() true")
	}
	bad := Report{Results: []Result{{Name: "a", Passed: false}}, ExitCode: 0}
	if bad.Passed() {
		t.Fatal("expected Passed() false on a failed probe")
	}
	nonzero := Report{Results: []Result{{Name: "a", Passed: true}}, ExitCode: 1}
	if nonzero.Passed() {
		t.Fatal("expected Passed() false on nonzero exit code")
	}
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
