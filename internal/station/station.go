// Package station runs one wake cycle: timestamp, sample, then upload or buffer.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/camera"
	"cloudpico-station/internal/display"
	"cloudpico-station/internal/sampler"
	"cloudpico-station/internal/sensor"
	"cloudpico-station/internal/storeforward"
	"cloudpico-station/internal/transport"
	"cloudpico-station/internal/types"
)

type TimeService interface {
	Now(ctx context.Context, maxWait time.Duration) string
}

type PressureReference interface {
	QNH(ctx context.Context, now string) *float64
}

// ContactRecorder stores the time of the last successful collector contact.
type ContactRecorder interface {
	PutTimestamp(key, timestamp string) error
}

// ButtonSource reports the last press of the display wake button.
type ButtonSource interface {
	LastPress() time.Time
}

// Device is the per-boot context of the node.
type Device struct {
	Production      bool
	LastButtonPress time.Time
	StationID       string
}

type Options struct {
	TimeWait       time.Duration
	UploadTimeout  time.Duration
	DrainTimeout   time.Duration
	DisplayTimeout time.Duration
}

// Deps are the collaborators of a station. Time, Sampler and Log are required;
// the rest may be nil when the hardware or service is absent.
type Deps struct {
	Device    Device
	Status    types.Status
	Time      TimeService
	QNH       PressureReference
	Contact   ContactRecorder
	Sampler   *sampler.Sampler
	Humidity  sensor.HumidityTemp
	Pressure  sensor.Pressure
	Camera    camera.Camera
	Display   display.Display
	Button    ButtonSource
	Transport transport.Transport
	Log       storeforward.Log
}

type Station struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// Outcome summarizes one cycle.
type Outcome struct {
	Reading  types.Reading
	Image    bool
	Online   bool
	Uploaded bool
	Buffered bool
	Drained  int
	Backlog  int
	// StorageErr is set when buffering failed; the reading is lost.
	StorageErr error
	// DrainErr is why the drain stopped early, if it did.
	DrainErr error
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Station, error) {
	if deps.Time == nil || deps.Sampler == nil || deps.Log == nil {
		return nil, errors.New("station: time service, sampler and log are required")
	}
	if opts.TimeWait <= 0 {
		opts.TimeWait = 10 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 15 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 2 * time.Minute
	}
	if opts.DisplayTimeout <= 0 {
		opts.DisplayTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Station{deps: deps, opts: opts, logger: logger, now: time.Now}, nil
}

// RunCycle performs one wake cycle. Only context cancellation is returned as
// an error; delivery and storage problems are reported in the Outcome.
func (s *Station) RunCycle(ctx context.Context) (Outcome, error) {
	d := s.deps
	timestamp := d.Time.Now(ctx, s.opts.TimeWait)
	var qnh *float64
	if d.QNH != nil {
		qnh = d.QNH.QNH(ctx, timestamp)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	reading := types.NewReading(timestamp)
	if err := s.sample(ctx, &reading, qnh); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Reading: reading}

	var image []byte
	if d.Status.Has(types.Camera) && d.Camera != nil {
		frame, err := d.Camera.Capture(ctx)
		if err != nil {
			s.logger.Warn("station: capture failed", "error", err)
		} else {
			defer d.Camera.Release(frame)
			image = frame.Data
			out.Image = true
		}
	}

	out.Online = d.Status.Has(types.Network) && d.Transport != nil && d.Transport.Reachable(ctx)
	if !out.Online {
		s.buffer(ctx, &out, reading, image)
	} else {
		s.deliverOnline(ctx, &out, reading, image)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if n, err := d.Log.Size(ctx); err == nil {
		out.Backlog = n
	}
	s.show(out)

	s.logger.Info("station: cycle done",
		"timestamp", reading.Timestamp,
		"online", out.Online,
		"uploaded", out.Uploaded,
		"buffered", out.Buffered,
		"drained", out.Drained,
		"backlog", out.Backlog,
	)
	return out, nil
}

func (s *Station) sample(ctx context.Context, r *types.Reading, qnh *float64) error {
	d := s.deps
	if d.Status.Has(types.HumidityTemp) && d.Humidity != nil {
		est, err := d.Sampler.Sample(ctx, "humidity", 2, func() ([]float64, error) {
			h, t, err := d.Humidity.ReadHumidityTemp()
			return []float64{h, t}, err
		})
		if err != nil {
			return err
		}
		r.Humidity = est.Value(0)
		r.Temperature = est.Value(1)
	}

	if d.Status.Has(types.Pressure) && d.Pressure != nil {
		channels := 2
		if qnh != nil {
			channels = 3
		}
		est, err := d.Sampler.Sample(ctx, "pressure", channels, func() ([]float64, error) {
			p, t, err := d.Pressure.ReadPressureTemp()
			if err != nil || qnh == nil {
				return []float64{p, t}, err
			}
			alt, err := sampler.Altitude(p, *qnh)
			return []float64{p, t, alt}, err
		})
		if err != nil {
			return err
		}
		r.Pressure = est.Value(0)
		// the humidity sensor's temperature wins
		if r.Temperature == nil {
			r.Temperature = est.Value(1)
		}
		if qnh != nil {
			r.Altitude = est.Value(2)
		}
	}

	r.Dewpoint = sampler.Dewpoint(r.Temperature, r.Humidity, r.Pressure, r.Altitude)
	return nil
}

func (s *Station) buffer(ctx context.Context, out *Outcome, r types.Reading, image []byte) {
	if err := s.deps.Log.Append(ctx, r, image); err != nil {
		s.logger.Error("station: reading could not be buffered", "reading", r.ID, "error", err)
		out.StorageErr = err
		return
	}
	out.Buffered = true
}

func (s *Station) deliverOnline(ctx context.Context, out *Outcome, r types.Reading, image []byte) {
	d := s.deps
	backlog, _ := d.Log.Size(ctx)
	if msg, err := transport.StatusMessage(d.Device.StationID, d.Status, r.Timestamp, backlog); err == nil {
		if err := s.upload(ctx, msg); err != nil {
			s.logger.Warn("station: status upload failed", "error", err)
		}
	}

	rec := storeforward.Delivery{
		Record: storeforward.Record{Reading: r, HasImage: len(image) > 0},
		Image:  image,
	}
	if err := s.Deliver(ctx, rec); err != nil {
		s.logger.Warn("station: upload failed, buffering", "reading", r.ID, "error", err)
		s.buffer(ctx, out, r, image)
		return
	}
	out.Uploaded = true
	if _, err := types.ParseTimestamp(r.Timestamp); err == nil && d.Contact != nil {
		if err := d.Contact.PutTimestamp(cache.KeyServer, r.Timestamp); err != nil {
			s.logger.Warn("station: recording collector contact failed", "error", err)
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.opts.DrainTimeout)
	defer cancel()
	n, err := d.Log.Drain(drainCtx, s.Deliver)
	out.Drained = n
	if err != nil {
		out.DrainErr = err
		s.logger.Warn("station: backlog drain incomplete", "delivered", n, "error", err)
		return
	}
	if size, err := d.Log.Size(ctx); err == nil && size == 0 {
		if err := d.Log.Clear(ctx); err != nil {
			s.logger.Warn("station: clearing log failed", "error", err)
		}
	}
}

// Deliver uploads one record: the reading, then its image. It is the upload
// function used for both fresh and buffered records.
func (s *Station) Deliver(ctx context.Context, rec storeforward.Delivery) error {
	msg, err := transport.ReadingMessage(s.deps.Device.StationID, rec.Record.Reading)
	if err != nil {
		return err
	}
	if err := s.upload(ctx, msg); err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	if len(rec.Image) > 0 {
		if err := s.upload(ctx, transport.ImageMessage(rec.Record.Reading, rec.Image)); err != nil {
			return fmt.Errorf("image: %w", err)
		}
	}
	return nil
}

func (s *Station) upload(ctx context.Context, msg transport.Message) error {
	if s.deps.Transport == nil {
		return transport.ErrUnreachable
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	return s.deps.Transport.Upload(ctx, msg)
}

func (s *Station) show(out Outcome) {
	d := s.deps
	if !d.Status.Has(types.Display) || d.Display == nil {
		return
	}
	pressed := d.Device.LastButtonPress
	if d.Button != nil {
		pressed = d.Button.LastPress()
	}
	if d.Device.Production && (pressed.IsZero() || s.now().Sub(pressed) > s.opts.DisplayTimeout) {
		return
	}
	if err := d.Display.Show(SummaryLines(out)); err != nil {
		s.logger.Warn("station: display failed", "error", err)
	}
}

// SummaryLines is the text shown on the status screen.
func SummaryLines(out Outcome) []string {
	r := out.Reading
	link := "offline"
	if out.Online {
		link = "online"
	}
	return []string{
		r.Timestamp,
		"T " + formatValue(r.Temperature, "%.1fC") + " H " + formatValue(r.Humidity, "%.0f%%"),
		"P " + formatValue(r.Pressure, "%.1f") + " D " + formatValue(r.Dewpoint, "%.1f"),
		fmt.Sprintf("%s q%d", link, out.Backlog),
	}
}

func formatValue(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}
