package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/metrics"
)

// Result is the outcome of one tool invocation. A non-zero exit code is
// data, not an error: the lifecycle daemon decides what it means.
type Result struct {
	ExitCode int
	Stderr   []byte
	Stdout   []byte
	Duration time.Duration
}

// Ok reports whether the tool exited zero.
func (r *Result) Ok() bool {
	return r.ExitCode == 0
}

// Executor is a uniform wrapper around the external converter/merger
// tool. Each invocation gets its own identifier in logs and a wall-clock
// timeout; on expiry the child is killed and an error is returned so the
// caller leaves the record in its pre-call state.
type Executor struct {
	binary  string
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates an executor for the given tool binary.
func New(binary string, timeout time.Duration) *Executor {
	return &Executor{
		binary:  binary,
		timeout: timeout,
		logger:  log.WithComponent("executor"),
	}
}

// Convert transforms a StationXML artifact into the tool's internal
// form at targetPath.
func (e *Executor) Convert(ctx context.Context, sourcePath, targetPath string) (*Result, error) {
	return e.run(ctx, nil, "convert", sourcePath, targetPath)
}

// MergeToFile merges the given converted artifacts into one inventory
// file at targetPath.
func (e *Executor) MergeToFile(ctx context.Context, files []string, targetPath string) (*Result, error) {
	args := append([]string{"merge", "-o", targetPath}, files...)
	return e.run(ctx, nil, args...)
}

// Merge merges the given converted artifacts and streams the resulting
// inventory to sink.
func (e *Executor) Merge(ctx context.Context, files []string, sink io.Writer) (*Result, error) {
	args := append([]string{"merge"}, files...)
	return e.run(ctx, sink, args...)
}

// Reconfigure requests the downstream webservice to re-read its
// inventory.
func (e *Executor) Reconfigure(ctx context.Context) (*Result, error) {
	return e.run(ctx, nil, "reconfigure")
}

// RestartQueryService restarts the downstream query webservice.
func (e *Executor) RestartQueryService(ctx context.Context) (*Result, error) {
	return e.run(ctx, nil, "restart-query-service")
}

func (e *Executor) run(ctx context.Context, sink io.Writer, args ...string) (*Result, error) {
	invocationID := uuid.New().String()
	logger := e.logger.With().Str("invocation_id", invocationID).Str("operation", args[0]).Logger()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.binary, args...)
	// Descendants of the killed child may still hold the output pipes;
	// stop waiting on them shortly after the child itself is gone.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	if sink != nil {
		cmd.Stdout = sink
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	logger.Debug().Strs("args", args).Msg("invoking tool")
	err := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() != nil {
		metrics.ExecutorInvocations.WithLabelValues(args[0], "timeout").Inc()
		logger.Error().Dur("duration", duration).Msg("tool invocation timed out")
		return nil, fmt.Errorf("tool %s timed out after %s", args[0], e.timeout)
	}

	result := &Result{
		Stderr:   stderr.Bytes(),
		Stdout:   stdout.Bytes(),
		Duration: duration,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The tool could not be started at all.
			metrics.ExecutorInvocations.WithLabelValues(args[0], "error").Inc()
			return nil, fmt.Errorf("failed to invoke tool %s: %w", args[0], err)
		}
	}

	outcome := "ok"
	if !result.Ok() {
		outcome = "failed"
	}
	metrics.ExecutorInvocations.WithLabelValues(args[0], outcome).Inc()

	logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("tool invocation finished")
	return result, nil
}
