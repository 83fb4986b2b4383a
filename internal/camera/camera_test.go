package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func newTestCamera(t *testing.T, out []byte, err error) *Command {
	t.Helper()
	c, cerr := NewCommand("capture -o -", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if cerr != nil {
		t.Fatalf("NewCommand: %v", cerr)
	}
	c.run = func(context.Context, []string) ([]byte, error) { return out, err }
	return c
}

func TestCapture_SingleOwner(t *testing.T) {
	c := newTestCamera(t, jpeg, nil)
	ctx := context.Background()

	f, err := c.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(f.Data) != len(jpeg) {
		t.Errorf("frame size = %d", len(f.Data))
	}
	if _, err := c.Capture(ctx); !errors.Is(err, ErrFrameBusy) {
		t.Fatalf("second Capture err = %v, want ErrFrameBusy", err)
	}

	c.Release(f)
	if f.Data != nil {
		t.Error("released frame still holds data")
	}
	f2, err := c.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture after Release: %v", err)
	}
	c.Release(f2)
	// double release is harmless
	c.Release(f2)
	c.Release(nil)
}

func TestCapture_Errors(t *testing.T) {
	if _, err := newTestCamera(t, []byte("not an image"), nil).Capture(context.Background()); !errors.Is(err, ErrNotJPEG) {
		t.Errorf("err = %v, want ErrNotJPEG", err)
	}
	boom := errors.New("no camera")
	c := newTestCamera(t, nil, boom)
	if _, err := c.Capture(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped command error", err)
	}
	// a failed capture does not hold the camera
	c.run = func(context.Context, []string) ([]byte, error) { return jpeg, nil }
	if _, err := c.Capture(context.Background()); err != nil {
		t.Errorf("Capture after failure: %v", err)
	}
}

func TestNewCommand_Empty(t *testing.T) {
	if _, err := NewCommand("   ", 0, nil); err == nil {
		t.Fatal("NewCommand with empty command: error = nil")
	}
}
