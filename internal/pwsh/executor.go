package pwsh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cwm_bridge_commands_total",
		Help: "PowerShell invocations by outcome",
	}, []string{"outcome"})

	commandsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cwm_bridge_commands_in_flight",
		Help: "Currently running PowerShell processes",
	})

	commandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cwm_bridge_command_duration_seconds",
		Help:    "Wall time of PowerShell invocations",
		Buckets: prometheus.DefBuckets,
	})
)

// Executor spawns the PowerShell interpreter, enforces a per-call timeout and
// bounds the number of simultaneously running processes. A burst of requests
// used to fork a matching burst of interpreters; the semaphore queues the
// excess instead.
type Executor struct {
	shell    string
	baseArgs []string
	timeout  time.Duration
	sem      *semaphore.Weighted
	logger   *logrus.Logger
}

// NewExecutor creates an executor for the given interpreter binary.
// maxConcurrent <= 0 and timeout <= 0 fall back to safe defaults.
func NewExecutor(shell string, maxConcurrent int, timeout time.Duration) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Executor{
		shell:    shell,
		baseArgs: []string{"-NoProfile", "-NonInteractive", "-Command"},
		timeout:  timeout,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		logger:   logger,
	}
}

// Run executes script in a fresh interpreter process and returns trimmed
// stdout. extraEnv entries ("KEY=value") are appended to the process
// environment; credential material travels this way so it never appears in
// the command line or the script text.
func (e *Executor) Run(ctx context.Context, script string, extraEnv []string) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", NewError(KindExternalCommandFailed, "canceled while waiting for an interpreter slot: %v", err)
	}
	defer e.sem.Release(1)

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.shell, append(e.baseArgs, script)...)
	cmd.Env = append(os.Environ(), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	commandsInFlight.Inc()
	start := time.Now()
	err := cmd.Run()
	commandsInFlight.Dec()
	commandDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			commandsTotal.WithLabelValues("timeout").Inc()
			e.logger.Warnf("interpreter killed after %s timeout", e.timeout)
			return "", &Error{
				Kind:    KindExternalCommandFailed,
				Message: fmt.Sprintf("command timed out after %s", e.timeout),
				Cause:   err,
			}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			commandsTotal.WithLabelValues("failed").Inc()
			diag := strings.TrimSpace(stderr.String())
			if diag == "" {
				diag = fmt.Sprintf("interpreter exited with code %d", exitErr.ExitCode())
			}
			e.logger.WithField("exit_code", exitErr.ExitCode()).Warn("command failed")
			return "", &Error{
				Kind:    KindExternalCommandFailed,
				Message: diag,
				Cause:   err,
			}
		}

		// Not an exit status: the process never started.
		commandsTotal.WithLabelValues("spawn_failed").Inc()
		e.logger.WithError(err).Error("failed to start interpreter")
		return "", &Error{
			Kind:    KindProcessSpawnFailed,
			Message: fmt.Sprintf("failed to start %s: %v", e.shell, err),
			Cause:   err,
		}
	}

	commandsTotal.WithLabelValues("ok").Inc()
	e.logger.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Debug("command completed")
	return strings.TrimSpace(stdout.String()), nil
}

// ParseJSON decodes interpreter output. Empty output maps to nil: PowerShell
// pipelines that match nothing emit nothing rather than an empty array.
func ParseJSON(output string) (any, error) {
	if output == "" {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, &Error{
			Kind:    KindMalformedResponse,
			Message: fmt.Sprintf("interpreter output is not valid JSON: %v", err),
			Cause:   err,
		}
	}
	return result, nil
}
