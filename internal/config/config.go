package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultEnvFile = ".env"

type Config struct {
	AppEnv    string
	LogLevel  slog.Level
	StationID string

	DataDir         string
	FallbackDataDir string
	CacheFile       string
	LogFile         string
	LogBackend      string
	SQLitePath      string

	Transport    string
	CollectorURL string
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	TimeSource string
	NTPServer  string
	GPSPort    string
	GPSBaud    uint

	QNHURL      string
	QNHAPIKey   string
	QNHStation  string
	QNHJSONPath string

	SampleTarget    int
	SampleMaxErrors int
	SampleDelay     time.Duration

	TimeWait      time.Duration
	QNHTimeout    time.Duration
	ProbeTimeout  time.Duration
	UploadTimeout time.Duration
	DrainTimeout  time.Duration

	SensorEnabled  bool
	BME280Address  uint16
	CameraCommand  string
	DisplayEnabled bool
	DisplayAddress uint16
	DisplayTimeout time.Duration
	ButtonPin      string

	WakeHour      int
	SleepHour     int
	CycleSchedule string
	HTTPAddr      string
}

// Production reports whether the node runs unattended. The display then stays
// dark unless the button was pressed.
func (c Config) Production() bool {
	return c.AppEnv == "prod"
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is ignored unless required.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %q: %w", path, err)
}

func LoadFromEnv() (Config, error) {
	appEnv := envString("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		StationID:       envString("STATION_ID", "home"),
		DataDir:         envString("DATA_DIR", "/media/sd/cloudpico"),
		FallbackDataDir: envString("FALLBACK_DATA_DIR", "/var/lib/cloudpico"),
		CacheFile:       envString("CACHE_FILE", "cache.json"),
		LogFile:         envString("LOG_FILE", "log.json"),
		LogBackend:      envString("LOG_BACKEND", "json"),
		SQLitePath:      envString("SQLITE_PATH", ""),
		Transport:       envString("TRANSPORT", "http"),
		CollectorURL:    envString("COLLECTOR_URL", "http://localhost:8080"),
		MQTTBroker:      envString("MQTT_BROKER", "localhost"),
		MQTTClientID:    envString("MQTT_CLIENT_ID", "cloudpico-station"),
		TimeSource:      envString("TIME_SOURCE", "ntp"),
		NTPServer:       envString("NTP_SERVER", "pool.ntp.org"),
		GPSPort:         envString("GPS_PORT", "/dev/serial0"),
		QNHURL:          envString("QNH_URL", "https://api.metar-taf.com/metar"),
		QNHAPIKey:       envString("QNH_API_KEY", ""),
		QNHStation:      envString("QNH_STATION", ""),
		QNHJSONPath:     envString("QNH_JSON_PATH", "metar.qnh"),
		CameraCommand:   envString("CAMERA_COMMAND", ""),
		ButtonPin:       envString("BUTTON_PIN", ""),
		CycleSchedule:   envString("CYCLE_SCHEDULE", "@every 10m"),
		HTTPAddr:        envString("HTTP_ADDR", ":8081"),
	}

	switch cfg.LogBackend {
	case "json", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid LOG_BACKEND %q (allowed: json, sqlite)", cfg.LogBackend)
	}
	switch cfg.Transport {
	case "http", "mqtt":
	default:
		return Config{}, fmt.Errorf("invalid TRANSPORT %q (allowed: http, mqtt)", cfg.Transport)
	}
	switch cfg.TimeSource {
	case "ntp", "gps", "none":
	default:
		return Config{}, fmt.Errorf("invalid TIME_SOURCE %q (allowed: ntp, gps, none)", cfg.TimeSource)
	}

	if cfg.MQTTPort, err = envInt("MQTT_PORT", 1883); err != nil {
		return Config{}, err
	}
	gpsBaud, err := envInt("GPS_BAUD", 9600)
	if err != nil {
		return Config{}, err
	}
	if gpsBaud <= 0 {
		return Config{}, fmt.Errorf("GPS_BAUD must be positive, got %d", gpsBaud)
	}
	cfg.GPSBaud = uint(gpsBaud)

	if cfg.SampleTarget, err = envInt("SAMPLE_TARGET", 100); err != nil {
		return Config{}, err
	}
	if cfg.SampleTarget <= 0 {
		return Config{}, fmt.Errorf("SAMPLE_TARGET must be positive, got %d", cfg.SampleTarget)
	}
	if cfg.SampleMaxErrors, err = envInt("SAMPLE_MAX_ERRORS", 5); err != nil {
		return Config{}, err
	}
	if cfg.SampleMaxErrors <= 0 {
		return Config{}, fmt.Errorf("SAMPLE_MAX_ERRORS must be positive, got %d", cfg.SampleMaxErrors)
	}
	if cfg.SampleDelay, err = envDuration("SAMPLE_DELAY", "50ms", false); err != nil {
		return Config{}, err
	}

	timeouts := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"TIME_WAIT", "10s", &cfg.TimeWait},
		{"QNH_TIMEOUT", "10s", &cfg.QNHTimeout},
		{"PROBE_TIMEOUT", "5s", &cfg.ProbeTimeout},
		{"UPLOAD_TIMEOUT", "15s", &cfg.UploadTimeout},
		{"DRAIN_TIMEOUT", "2m", &cfg.DrainTimeout},
		{"DISPLAY_TIMEOUT", "2m", &cfg.DisplayTimeout},
	}
	for _, tt := range timeouts {
		if *tt.dst, err = envDuration(tt.name, tt.def, true); err != nil {
			return Config{}, err
		}
	}

	if cfg.SensorEnabled, err = envBool("SENSOR_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.DisplayEnabled, err = envBool("DISPLAY_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.BME280Address, err = envAddress("BME280_ADDRESS", "0x76"); err != nil {
		return Config{}, err
	}
	if cfg.DisplayAddress, err = envAddress("DISPLAY_ADDRESS", "0x3c"); err != nil {
		return Config{}, err
	}

	if cfg.WakeHour, err = envInt("WAKE_HOUR", 6); err != nil {
		return Config{}, err
	}
	if cfg.SleepHour, err = envInt("SLEEP_HOUR", 21); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envInt(name string, def int) (int, error) {
	s := envString(name, strconv.Itoa(def))
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func envBool(name string, def bool) (bool, error) {
	s := envString(name, strconv.FormatBool(def))
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func envDuration(name, def string, positive bool) (time.Duration, error) {
	s := envString(name, def)
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v < 0 || (positive && v == 0) {
		return 0, fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return v, nil
}

func envAddress(name, def string) (uint16, error) {
	s := envString(name, def)
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return uint16(v), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
