// Package ffmpeg runs the ffmpeg and ffprobe binaries as black-box collaborators.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external program and returns its standard output.
//
// Implementations must return an *ExitError when the program exits non-zero
// so callers can surface the tool's diagnostic output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExitError describes a failed tool invocation.
type ExitError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 2048 {
		msg = "..." + msg[len(msg)-2048:]
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, msg)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run blocks until the program exits.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &ExitError{Name: name, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// Binaries names the executables to invoke.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// DefaultBinaries resolves both tools from PATH.
func DefaultBinaries() Binaries {
	return Binaries{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}
}

func (b Binaries) withDefaults() Binaries {
	if b.FFmpeg == "" {
		b.FFmpeg = "ffmpeg"
	}
	if b.FFprobe == "" {
		b.FFprobe = "ffprobe"
	}
	return b
}

// CheckAvailable verifies both tools start and report a version.
func CheckAvailable(ctx context.Context, runner Runner, bins Binaries) error {
	bins = bins.withDefaults()
	for _, name := range []string{bins.FFmpeg, bins.FFprobe} {
		if _, err := runner.Run(ctx, name, "-version"); err != nil {
			return fmt.Errorf("%s is not available: %w", name, err)
		}
	}
	return nil
}
