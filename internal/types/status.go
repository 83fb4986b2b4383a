package types

import "strings"

// Status is the set of capabilities detected at boot.
type Status uint8

const (
	Camera Status = 1 << iota
	HumidityTemp
	Pressure
	Network
	Display
	GPS
)

var statusNames = []struct {
	flag Status
	name string
}{
	{Camera, "cam"},
	{HumidityTemp, "sht"},
	{Pressure, "bmp"},
	{Network, "wifi"},
	{Display, "screen"},
	{GPS, "gps"},
}

// Has reports whether every flag in f is set.
func (s Status) Has(f Status) bool {
	return s&f == f
}

// With returns s with f set.
func (s Status) With(f Status) Status {
	return s | f
}

// Without returns s with f cleared.
func (s Status) Without(f Status) Status {
	return s &^ f
}

// SensorsDown reports whether no sensing or output hardware was found.
func (s Status) SensorsDown() bool {
	return !s.Has(Camera) && !s.Has(HumidityTemp) && !s.Has(Pressure) && !s.Has(Display)
}

// Flags returns every known flag name mapped to its state.
func (s Status) Flags() map[string]bool {
	out := make(map[string]bool, len(statusNames))
	for _, n := range statusNames {
		out[n.name] = s.Has(n.flag)
	}
	return out
}

func (s Status) String() string {
	var parts []string
	for _, n := range statusNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
