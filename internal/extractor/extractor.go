package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/brensch/jsonlpack/internal/config"
)

// Extractor unpacks one archive into a target directory.
type Extractor interface {
	Extract(ctx context.Context, archive, targetDir string) error
}

// ExtractionError reports a failed call to the external tool for one archive.
// It is recoverable: callers log it and move on to the next archive.
type ExtractionError struct {
	Archive string
	Cause   error
	Output  string // Trailing combined output of the tool, if any
}

func (e *ExtractionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("extract %s: %v: %s", e.Archive, e.Cause, e.Output)
	}
	return fmt.Sprintf("extract %s: %v", e.Archive, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// maxOutputTail bounds how much tool output is kept on an ExtractionError.
const maxOutputTail = 512

// CommandExtractor runs an external decompression tool.
// Args may contain the placeholders {archive} and {dest}.
type CommandExtractor struct {
	Command string
	Args    []string
	Env     []string
	Timeout time.Duration
	Retries int
	Logger  *slog.Logger
}

var _ Extractor = (*CommandExtractor)(nil)

// New builds a CommandExtractor from the extractor section of the config.
func New(cfg config.ExtractorConfig, logger *slog.Logger) *CommandExtractor {
	return &CommandExtractor{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
		Logger:  logger,
	}
}

// Extract runs the tool for archive, retrying up to Retries extra times.
// Cancellation of ctx is never retried.
func (c *CommandExtractor) Extract(ctx context.Context, archive, targetDir string) error {
	l := c.logger().With(slog.String("archive", archive), slog.String("dest", targetDir))

	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			l.Warn("Retrying extraction.", slog.Int("attempt", attempt+1), "error", lastErr)
		}
		start := time.Now()
		output, err := c.runOnce(ctx, archive, targetDir)
		if err == nil {
			l.Debug("Extraction finished.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
			return nil
		}
		lastErr = &ExtractionError{Archive: archive, Cause: err, Output: tail(output)}
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (c *CommandExtractor) runOnce(ctx context.Context, archive, targetDir string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command, ExpandArgs(c.Args, archive, targetDir)...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", c.Timeout, ctx.Err())
	}
	return buf.Bytes(), err
}

func (c *CommandExtractor) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// ExpandArgs substitutes {archive} and {dest} in every argument.
func ExpandArgs(args []string, archive, dest string) []string {
	r := strings.NewReplacer("{archive}", archive, "{dest}", dest)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
