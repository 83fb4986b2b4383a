// Package camera captures one JPEG frame per cycle.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	ErrFrameBusy = errors.New("camera: previous frame not released")
	ErrNotJPEG   = errors.New("camera: output is not a JPEG")
)

// Frame is a captured image. It belongs to the camera until Release.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

type Camera interface {
	Capture(ctx context.Context) (*Frame, error)
	// Release returns the frame; it must be called exactly once per successful Capture.
	Release(f *Frame)
}

// Command captures by running an external program that writes a JPEG to
// stdout, e.g. "rpicam-still -n -o -".
type Command struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	out *Frame
	run func(ctx context.Context, argv []string) ([]byte, error)
}

func NewCommand(command string, timeout time.Duration, logger *slog.Logger) (*Command, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("camera: empty capture command")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{argv: argv, timeout: timeout, logger: logger, run: runCommand}, nil
}

func (c *Command) Capture(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		return nil, ErrFrameBusy
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := c.run(ctx, c.argv)
	if err != nil {
		return nil, fmt.Errorf("camera: %s: %w", c.argv[0], err)
	}
	if !isJPEG(data) {
		return nil, ErrNotJPEG
	}

	f := &Frame{Data: data, CapturedAt: time.Now()}
	c.out = f
	c.logger.Debug("camera: captured", "bytes", len(data))
	return f, nil
}

func (c *Command) Release(f *Frame) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != f {
		c.logger.Warn("camera: release of a frame not held")
		return
	}
	c.out = nil
	f.Data = nil
}

func runCommand(ctx context.Context, argv []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func isJPEG(b []byte) bool {
	return len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF
}
