package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/camera"
	"cloudpico-station/internal/config"
	"cloudpico-station/internal/display"
	"cloudpico-station/internal/fsys"
	"cloudpico-station/internal/httpapi"
	"cloudpico-station/internal/qnh"
	"cloudpico-station/internal/sampler"
	"cloudpico-station/internal/sensor"
	"cloudpico-station/internal/station"
	"cloudpico-station/internal/storeforward"
	"cloudpico-station/internal/timesync"
	"cloudpico-station/internal/transport"
	"cloudpico-station/internal/types"
)

const sqliteFile = "log.db"

// App owns the station and every resource it opened.
type App struct {
	cfg       config.Config
	logger    *slog.Logger
	status    types.Status
	clock     timesync.Clock
	cache     *cache.Cache
	log       storeforward.Log
	transport transport.Transport
	button    *sensor.Button
	station   *station.Station
	closers   []io.Closer

	mu      sync.Mutex
	cycles  int
	last    station.Outcome
	lastErr error
}

// hardware is what New probes for. Tests replace it to run without a board.
type hardware struct {
	openSensor  func(addr uint16) (*sensor.BMXX80, error)
	openDisplay func(addr uint16) (*display.SSD1306, error)
	openButton  func(name string, logger *slog.Logger) (*sensor.Button, error)
	hasNetwork  func() bool
}

var boardHardware = hardware{
	openSensor:  sensor.OpenBMXX80,
	openDisplay: display.OpenSSD1306,
	openButton:  sensor.OpenButton,
	hasNetwork:  networkUp,
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	return newApp(ctx, cfg, logger, boardHardware)
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, hw hardware) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger, clock: timesync.NewSystemClock()}

	dir, err := fsys.Mount(logger, cfg.DataDir, cfg.FallbackDataDir)
	if err != nil {
		return nil, err
	}

	a.cache = cache.New(dir, cfg.CacheFile, logger)
	if err := a.cache.Init(); err != nil {
		logger.Warn("cache init failed; continuing with defaults", "error", err)
	}

	if err := a.openLog(ctx, dir); err != nil {
		return nil, err
	}

	deps := station.Deps{
		Device: station.Device{
			Production: cfg.Production(),
			StationID:  cfg.StationID,
		},
		Contact: a.cache,
		Log:     a.log,
	}
	a.probe(&deps, hw)
	deps.Status = a.status

	a.transport = a.openTransport()
	a.closers = append(a.closers, a.transport)
	deps.Transport = a.transport

	deps.Time = timesync.New(a.cache, a.timeSource(), a.clock, a.status, logger)
	var fetcher qnh.Fetcher
	if cfg.QNHStation != "" && cfg.QNHAPIKey != "" {
		fetcher = qnh.NewMETARFetcher(cfg.QNHURL, cfg.QNHAPIKey, cfg.QNHStation, cfg.QNHJSONPath)
	}
	deps.QNH = qnh.New(a.cache, fetcher, a.status, cfg.QNHTimeout, logger)
	deps.Sampler = sampler.New(sampler.Options{
		Target:    cfg.SampleTarget,
		MaxErrors: cfg.SampleMaxErrors,
		Delay:     cfg.SampleDelay,
	}, logger)

	a.station, err = station.New(deps, station.Options{
		TimeWait:       cfg.TimeWait,
		UploadTimeout:  cfg.UploadTimeout,
		DrainTimeout:   cfg.DrainTimeout,
		DisplayTimeout: cfg.DisplayTimeout,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Info("station ready",
		"capabilities", a.status.String(),
		"log_backend", cfg.LogBackend,
		"transport", cfg.Transport,
		"time_source", cfg.TimeSource,
	)
	return a, nil
}

func (a *App) openLog(ctx context.Context, dir *fsys.Dir) error {
	switch a.cfg.LogBackend {
	case "sqlite":
		path := a.cfg.SQLitePath
		if path == "" {
			path = dir.Path(sqliteFile)
		}
		l, err := storeforward.OpenSQLite(ctx, path, a.logger)
		if err != nil {
			return err
		}
		a.log = l
	default:
		a.log = storeforward.NewFileLog(dir, a.cfg.LogFile, a.logger)
	}
	a.closers = append(a.closers, a.log)
	return nil
}

// probe detects the optional hardware. Anything that fails to open is left
// out of the status and the cycle runs without it.
func (a *App) probe(deps *station.Deps, hw hardware) {
	cfg := a.cfg
	if cfg.SensorEnabled && hw.openSensor != nil {
		dev, err := hw.openSensor(cfg.BME280Address)
		if err != nil {
			a.logger.Warn("pressure sensor unavailable", "addr", fmt.Sprintf("0x%02x", cfg.BME280Address), "error", err)
		} else {
			a.closers = append(a.closers, dev)
			deps.Pressure = dev
			a.status = a.status.With(types.Pressure)
			if dev.HasHumidity() {
				deps.Humidity = dev
				a.status = a.status.With(types.HumidityTemp)
			}
			a.logger.Info("sensor found", "model", dev.Model())
		}
	}

	if cfg.CameraCommand != "" {
		cam, err := camera.NewCommand(cfg.CameraCommand, cfg.UploadTimeout, a.logger)
		if err != nil {
			a.logger.Warn("camera unavailable", "error", err)
		} else {
			deps.Camera = cam
			a.status = a.status.With(types.Camera)
		}
	}

	if cfg.DisplayEnabled && hw.openDisplay != nil {
		dev, err := hw.openDisplay(cfg.DisplayAddress)
		if err != nil {
			a.logger.Warn("display unavailable", "error", err)
		} else {
			a.closers = append(a.closers, dev)
			deps.Display = dev
			a.status = a.status.With(types.Display)
		}
	}

	if cfg.ButtonPin != "" && hw.openButton != nil {
		b, err := hw.openButton(cfg.ButtonPin, a.logger)
		if err != nil {
			a.logger.Warn("button unavailable", "pin", cfg.ButtonPin, "error", err)
		} else {
			a.button = b
			deps.Button = b
		}
	}

	if hw.hasNetwork != nil && hw.hasNetwork() {
		a.status = a.status.With(types.Network)
	}
	if cfg.TimeSource == "gps" {
		if _, err := os.Stat(cfg.GPSPort); err == nil {
			a.status = a.status.With(types.GPS)
		} else {
			a.logger.Warn("gps port unavailable", "port", cfg.GPSPort, "error", err)
		}
	}
}

func (a *App) openTransport() transport.Transport {
	if a.cfg.Transport == "mqtt" {
		return transport.NewMQTT(transport.MQTTOptions{
			Broker:         a.cfg.MQTTBroker,
			Port:           a.cfg.MQTTPort,
			ClientID:       a.cfg.MQTTClientID,
			StationID:      a.cfg.StationID,
			ConnectTimeout: a.cfg.ProbeTimeout,
			PublishTimeout: a.cfg.UploadTimeout,
		}, a.logger)
	}
	return transport.NewHTTP(a.cfg.CollectorURL, a.cfg.StationID, a.cfg.ProbeTimeout, a.logger)
}

func (a *App) timeSource() timesync.Source {
	switch a.cfg.TimeSource {
	case "ntp":
		return timesync.NewNTPSource(a.cfg.NTPServer, a.cfg.TimeWait)
	case "gps":
		return timesync.NewGPSSource(a.cfg.GPSPort, a.cfg.GPSBaud)
	default:
		return nil
	}
}

// networkUp reports whether any non-loopback interface is up with an address.
func networkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

func (a *App) Status() types.Status {
	return a.status
}

// RunCycle runs one wake cycle and records its outcome for the health endpoint.
func (a *App) RunCycle(ctx context.Context) (station.Outcome, error) {
	out, err := a.station.RunCycle(ctx)
	a.mu.Lock()
	a.cycles++
	a.last = out
	a.lastErr = err
	a.mu.Unlock()
	return out, err
}

// SleepAdvice is how long the node should sleep now, if it is outside its
// operating hours.
func (a *App) SleepAdvice() (time.Duration, bool) {
	now := a.clock.Now().Local()
	if types.ClockUnset(now) {
		return 0, false
	}
	return station.SleepFor(now, a.cfg.WakeHour, a.cfg.SleepHour)
}

// Flush drains the backlog without taking a reading.
func (a *App) Flush(ctx context.Context) (int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	ok := a.status.Has(types.Network) && a.transport.Reachable(probeCtx)
	cancel()
	if !ok {
		return 0, transport.ErrUnreachable
	}

	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.DrainTimeout)
	defer cancel()
	n, err := a.log.Drain(drainCtx, a.station.Deliver)
	if err != nil {
		return n, err
	}
	if size, err := a.log.Size(ctx); err == nil && size == 0 {
		if err := a.log.Clear(ctx); err != nil {
			a.logger.Warn("clearing log failed", "error", err)
		}
	}
	return n, nil
}

func (a *App) Backlog(ctx context.Context) ([]storeforward.Record, error) {
	return a.log.Records(ctx)
}

func (a *App) CacheEntries() (map[string]cache.Entry, error) {
	return a.cache.Entries()
}

func (a *App) Health(ctx context.Context) httpapi.Health {
	a.mu.Lock()
	h := httpapi.Health{
		Status:       "ok",
		Capabilities: a.status.Flags(),
		Cycles:       a.cycles,
		LastCycle:    a.last.Reading.Timestamp,
		Online:       a.last.Online,
	}
	if a.lastErr != nil || a.last.StorageErr != nil {
		h.Status = "degraded"
	}
	a.mu.Unlock()

	if n, err := a.log.Size(ctx); err == nil {
		h.Backlog = n
	} else {
		h.Status = "degraded"
	}
	return h
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
