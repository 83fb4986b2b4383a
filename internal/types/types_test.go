package types

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "zero", in: time.Time{}, want: TimestampNone},
		{name: "epoch", in: time.Unix(0, 0), want: TimestampNone},
		{name: "utc", in: time.Date(2024, 5, 17, 8, 3, 9, 0, time.UTC), want: "2024-05-17 08:03:09"},
		{name: "offset zone", in: time.Date(2024, 5, 17, 10, 3, 9, 0, time.FixedZone("CEST", 2*3600)), want: "2024-05-17 08:03:09"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimestamp(tt.in); got != tt.want {
				t.Errorf("FormatTimestamp() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-05-17 08:03:09")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if want := time.Date(2024, 5, 17, 8, 3, 9, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ParseTimestamp = %v, want %v", got, want)
	}

	for _, bad := range []string{"", "none", "None", "2024-05-17T08:03:09Z", "yesterday"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q) error = nil, want non-nil", bad)
		}
	}
}

func TestValidTimestamp(t *testing.T) {
	for _, ok := range []string{"none", "None", "2024-05-17 08:03:09"} {
		if !ValidTimestamp(ok) {
			t.Errorf("ValidTimestamp(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "2024-05-17", "2024-05-17 08:03"} {
		if ValidTimestamp(bad) {
			t.Errorf("ValidTimestamp(%q) = true, want false", bad)
		}
	}
}

func TestImageName_RoundTrip(t *testing.T) {
	r := NewReading("2024-05-17 08:03:09")
	name := ImageName(r)
	if name != "2024_05_17_08_03_09.jpg" {
		t.Fatalf("ImageName = %q", name)
	}
	ts, err := ParseImageName(name)
	if err != nil {
		t.Fatalf("ParseImageName: %v", err)
	}
	if ts != r.Timestamp {
		t.Errorf("ParseImageName = %q, want %q", ts, r.Timestamp)
	}
}

func TestImageName_Unsynced(t *testing.T) {
	r := NewReading(TimestampNone)
	name := ImageName(r)
	if !strings.HasPrefix(name, "unsynced_") || !strings.Contains(name, r.ID) {
		t.Errorf("ImageName = %q, want unsynced_<id>.jpg", name)
	}
	if _, err := ParseImageName(name); err == nil {
		t.Error("ParseImageName(unsynced) error = nil, want non-nil")
	}
}

func TestNewReading(t *testing.T) {
	a := NewReading("")
	b := NewReading("")
	if a.Timestamp != TimestampNone {
		t.Errorf("Timestamp = %q, want %q", a.Timestamp, TimestampNone)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs not unique: %q %q", a.ID, b.ID)
	}
	if a.Temperature != nil || a.Dewpoint != nil {
		t.Error("new reading has values set")
	}
}

func TestStatus(t *testing.T) {
	var s Status
	if !s.SensorsDown() {
		t.Error("empty status: SensorsDown = false")
	}
	if s.String() != "none" {
		t.Errorf("String = %q, want none", s.String())
	}

	s = s.With(Camera).With(Network)
	if !s.Has(Camera) || !s.Has(Network) || s.Has(Pressure) {
		t.Errorf("Has mismatch for %v", s)
	}
	if !s.Has(Camera | Network) {
		t.Error("Has(Camera|Network) = false")
	}
	if s.Has(Camera | Pressure) {
		t.Error("Has(Camera|Pressure) = true")
	}
	if got := s.String(); got != "cam|wifi" {
		t.Errorf("String = %q, want cam|wifi", got)
	}
	if s.SensorsDown() {
		t.Error("SensorsDown = true with camera present")
	}

	s = s.Without(Camera)
	if s.Has(Camera) {
		t.Error("Without(Camera) kept camera")
	}
	flags := s.Flags()
	if !flags["wifi"] || flags["cam"] || len(flags) != 6 {
		t.Errorf("Flags = %v", flags)
	}
}
