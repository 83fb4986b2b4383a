package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Button is an active-low push button with the internal pull-up enabled. It
// remembers when it was last pressed.
type Button struct {
	pin    gpio.PinIO
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func OpenButton(name string, logger *slog.Logger) (*Button, error) {
	if err := HostInit(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return NewButton(p, logger)
}

func NewButton(p gpio.PinIO, logger *slog.Logger) (*Button, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("configure %s: %w", p, err)
	}
	b := &Button{pin: p, logger: logger, now: time.Now}
	// held down at boot counts as a press
	b.Poll()
	return b, nil
}

// Poll records a press if the button is down right now.
func (b *Button) Poll() {
	if b.pin.Read() == gpio.Low {
		b.press()
	}
}

func (b *Button) LastPress() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Watch records presses until ctx is done.
func (b *Button) Watch(ctx context.Context) {
	for ctx.Err() == nil {
		if b.pin.WaitForEdge(500*time.Millisecond) && b.pin.Read() == gpio.Low {
			b.press()
		}
	}
}

func (b *Button) press() {
	t := b.now()
	b.mu.Lock()
	b.last = t
	b.mu.Unlock()
	b.logger.Debug("button pressed", "pin", b.pin.Name(), "at", t)
}
