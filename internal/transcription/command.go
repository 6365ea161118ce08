package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandEngine runs a local speech-to-text CLI (whisper.cpp, faster-whisper wrapper)
// once per chunk. The WAV blob is written to a temp file substituted for {input}
// and the command's stdout is taken as the transcript.
type CommandEngine struct {
	command string
	args    []string
	timeout time.Duration
	tmpDir  string
	logger  *slog.Logger
}

// NewCommandEngine creates a local command engine
func NewCommandEngine(command string, args []string, timeout time.Duration, logger *slog.Logger) (*CommandEngine, error) {
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &CommandEngine{
		command: command,
		args:    args,
		timeout: timeout,
		tmpDir:  os.TempDir(),
		logger:  logger,
	}, nil
}

// Name identifies the engine in status responses
func (e *CommandEngine) Name() string {
	return "command:" + filepath.Base(e.command)
}

// Transcribe writes the blob to disk and runs the command on it
func (e *CommandEngine) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrEngineFailure)
	}

	f, err := os.CreateTemp(e.tmpDir, "transcripto-*.wav")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", ErrEngineFailure, err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: write temp file: %v", ErrEngineFailure, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp file: %v", ErrEngineFailure, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := make([]string, len(e.args))
	for i, a := range e.args {
		args[i] = strings.ReplaceAll(a, "{input}", path)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.command, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s failed: %s", ErrEngineFailure, e.command, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%w: run %s: %v", ErrEngineFailure, e.command, err)
	}

	e.logger.Debug("Command engine finished",
		slog.String("command", e.command),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("output_bytes", len(out)))

	return strings.TrimSpace(string(out)), nil
}
