package pwsh

import (
	"context"
	"strings"
	"testing"
	"time"
)

// newShellExecutor points the executor at /bin/sh so tests do not need a
// PowerShell install.
func newShellExecutor(timeout time.Duration) *Executor {
	e := NewExecutor("sh", 2, timeout)
	e.baseArgs = []string{"-c"}
	return e
}

func TestRunReturnsTrimmedStdout(t *testing.T) {
	e := newShellExecutor(10 * time.Second)

	out, err := e.Run(context.Background(), `printf '  {"ok":true}  \n'`, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("Expected trimmed output, got %q", out)
	}
}

func TestRunNonZeroExitCarriesStderr(t *testing.T) {
	e := newShellExecutor(10 * time.Second)

	_, err := e.Run(context.Background(), `echo "bad filter" 1>&2; exit 1`, nil)
	if err == nil {
		t.Fatal("Expected an error for exit code 1")
	}
	if !IsKind(err, KindExternalCommandFailed) {
		t.Errorf("Expected KindExternalCommandFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad filter") {
		t.Errorf("Error does not carry stderr: %q", err.Error())
	}
}

func TestRunSpawnFailure(t *testing.T) {
	e := NewExecutor("/nonexistent/interpreter", 1, time.Second)

	_, err := e.Run(context.Background(), "whatever", nil)
	if err == nil {
		t.Fatal("Expected an error for a missing interpreter")
	}
	if !IsKind(err, KindProcessSpawnFailed) {
		t.Errorf("Expected KindProcessSpawnFailed, got %v", err)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	e := newShellExecutor(100 * time.Millisecond)

	start := time.Now()
	_, err := e.Run(context.Background(), "sleep 5", nil)
	if err == nil {
		t.Fatal("Expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Process was not killed promptly (took %v)", elapsed)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected a timeout message, got %q", err.Error())
	}
}

func TestRunPassesExtraEnv(t *testing.T) {
	e := newShellExecutor(10 * time.Second)

	out, err := e.Run(context.Background(), `printf '%s' "$CWM_SERVER"`, []string{"CWM_SERVER=cw.example.com"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "cw.example.com" {
		t.Errorf("Environment not passed through, got %q", out)
	}
}

func TestParseJSON(t *testing.T) {
	result, err := ParseJSON(`{"id": 7, "name": "Acme"}`)
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	obj, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("Expected an object, got %T", result)
	}
	if obj["name"] != "Acme" {
		t.Errorf("Unexpected decode result: %v", obj)
	}
}

func TestParseJSONEmptyOutput(t *testing.T) {
	result, err := ParseJSON("")
	if err != nil {
		t.Fatalf("Empty output should not error: %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil for empty output, got %v", result)
	}
}

func TestParseJSONMalformed(t *testing.T) {
	_, err := ParseJSON("ERROR: something went sideways")
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !IsKind(err, KindMalformedResponse) {
		t.Errorf("Expected KindMalformedResponse, got %v", err)
	}
}
