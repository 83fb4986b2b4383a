package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allVars = []string{
	"APP_ENV", "LOG_LEVEL", "STATION_ID", "DATA_DIR", "FALLBACK_DATA_DIR", "CACHE_FILE", "LOG_FILE",
	"LOG_BACKEND", "SQLITE_PATH", "TRANSPORT", "COLLECTOR_URL", "MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID",
	"TIME_SOURCE", "NTP_SERVER", "GPS_PORT", "GPS_BAUD", "QNH_URL", "QNH_API_KEY", "QNH_STATION",
	"QNH_JSON_PATH", "SAMPLE_TARGET", "SAMPLE_MAX_ERRORS", "SAMPLE_DELAY", "TIME_WAIT", "QNH_TIMEOUT",
	"PROBE_TIMEOUT", "UPLOAD_TIMEOUT", "DRAIN_TIMEOUT", "SENSOR_ENABLED", "BME280_ADDRESS", "CAMERA_COMMAND",
	"DISPLAY_ENABLED", "DISPLAY_ADDRESS", "DISPLAY_TIMEOUT", "BUTTON_PIN", "WAKE_HOUR", "SLEEP_HOUR",
	"CYCLE_SCHEDULE", "HTTP_ADDR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allVars {
		t.Setenv(v, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" || got.Production() {
		t.Errorf("AppEnv = %q, want dev", got.AppEnv)
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.CacheFile != "cache.json" || got.LogFile != "log.json" {
		t.Errorf("files = %q, %q", got.CacheFile, got.LogFile)
	}
	if got.LogBackend != "json" || got.Transport != "http" || got.TimeSource != "ntp" {
		t.Errorf("backends = %q, %q, %q", got.LogBackend, got.Transport, got.TimeSource)
	}
	if got.MQTTPort != 1883 || got.GPSBaud != 9600 {
		t.Errorf("MQTTPort = %d, GPSBaud = %d", got.MQTTPort, got.GPSBaud)
	}
	if got.SampleTarget != 100 || got.SampleMaxErrors != 5 || got.SampleDelay != 50*time.Millisecond {
		t.Errorf("sampling = %d, %d, %v", got.SampleTarget, got.SampleMaxErrors, got.SampleDelay)
	}
	if got.TimeWait != 10*time.Second || got.DrainTimeout != 2*time.Minute {
		t.Errorf("TimeWait = %v, DrainTimeout = %v", got.TimeWait, got.DrainTimeout)
	}
	if got.BME280Address != 0x76 || got.DisplayAddress != 0x3c {
		t.Errorf("addresses = %#x, %#x", got.BME280Address, got.DisplayAddress)
	}
	if !got.SensorEnabled || !got.DisplayEnabled {
		t.Error("sensor and display should default to enabled")
	}
	if got.WakeHour != 6 || got.SleepHour != 21 {
		t.Errorf("window = %d-%d", got.WakeHour, got.SleepHour)
	}
	if got.QNHJSONPath != "metar.qnh" {
		t.Errorf("QNHJSONPath = %q", got.QNHJSONPath)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", " prod ")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("LOG_BACKEND", "sqlite")
	t.Setenv("TRANSPORT", "mqtt")
	t.Setenv("TIME_SOURCE", "gps")
	t.Setenv("BME280_ADDRESS", "119")
	t.Setenv("SAMPLE_DELAY", "0s")
	t.Setenv("DISPLAY_ENABLED", "false")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if !got.Production() {
		t.Error("Production() = false for prod")
	}
	if got.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v", got.LogLevel)
	}
	if got.LogBackend != "sqlite" || got.Transport != "mqtt" || got.TimeSource != "gps" {
		t.Errorf("backends = %q, %q, %q", got.LogBackend, got.Transport, got.TimeSource)
	}
	if got.BME280Address != 0x77 {
		t.Errorf("BME280Address = %#x", got.BME280Address)
	}
	if got.SampleDelay != 0 || got.DisplayEnabled {
		t.Errorf("SampleDelay = %v, DisplayEnabled = %v", got.SampleDelay, got.DisplayEnabled)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"app env", "APP_ENV", "staging"},
		{"uppercase app env", "APP_ENV", "DEV"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"log backend", "LOG_BACKEND", "csv"},
		{"transport", "TRANSPORT", "ble"},
		{"time source", "TIME_SOURCE", "rtc"},
		{"mqtt port", "MQTT_PORT", "eighty"},
		{"gps baud", "GPS_BAUD", "0"},
		{"sample target", "SAMPLE_TARGET", "-1"},
		{"sample max errors", "SAMPLE_MAX_ERRORS", "0"},
		{"sample delay", "SAMPLE_DELAY", "-5ms"},
		{"zero timeout", "UPLOAD_TIMEOUT", "0s"},
		{"bad timeout", "DRAIN_TIMEOUT", "soon"},
		{"sensor flag", "SENSOR_ENABLED", "maybe"},
		{"i2c address", "DISPLAY_ADDRESS", "0x1ffff"},
		{"wake hour", "WAKE_HOUR", "six"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q: error = nil", tt.key, tt.value)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Error("parseLogLevel(trace): error = nil")
	}
}

func TestLoadEnvFile(t *testing.T) {
	const key = "CLOUDPICO_STATION_TEST_VAR"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "station.env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path, true); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")
	if err := LoadEnvFile(missing, false); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	if err := LoadEnvFile(missing, true); err == nil {
		t.Error("required missing file: error = nil")
	}
}
