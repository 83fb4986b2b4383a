package timesync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"cloudpico-station/internal/types"
)

var ErrNoFix = errors.New("gps: no valid RMC fix")

// GPSSource reads UTC time from RMC sentences on a serial NMEA receiver.
type GPSSource struct {
	PortName string
	BaudRate uint

	open func() (io.ReadCloser, error)
}

func NewGPSSource(port string, baud uint) *GPSSource {
	if baud == 0 {
		baud = 9600
	}
	s := &GPSSource{PortName: port, BaudRate: baud}
	s.open = s.openSerial
	return s
}

func (s *GPSSource) Name() string { return "gps" }

func (s *GPSSource) Requires() types.Status { return types.GPS }

func (s *GPSSource) openSerial() (io.ReadCloser, error) {
	port, err := serial.Open(serial.OpenOptions{
		PortName:        s.PortName,
		BaudRate:        s.BaudRate,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		// a receiver that stays silent this long ends the read instead of
		// blocking it; closing the port does not interrupt a blocking read
		InterCharacterTimeout: 2000,
		MinimumReadSize:       0,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.PortName, err)
	}
	return port, nil
}

// Fetch returns the time of the first valid RMC sentence.
func (s *GPSSource) Fetch(ctx context.Context) (time.Time, error) {
	port, err := s.open()
	if err != nil {
		return time.Time{}, err
	}

	type result struct {
		t   time.Time
		err error
	}
	done := make(chan result, 1)
	go func() {
		t, err := scanRMC(port)
		done <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		// the reader goroutine finishes on its own once its read returns
		_ = port.Close()
		return time.Time{}, ctx.Err()
	case r := <-done:
		_ = port.Close()
		return r.t, r.err
	}
}

func scanRMC(r io.Reader) (time.Time, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}
		if sentence.DataType() != nmea.TypeRMC {
			continue
		}
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC || !m.Date.Valid || !m.Time.Valid {
			continue
		}
		return rmcTime(m.Date, m.Time), nil
	}
	if err := sc.Err(); err != nil {
		return time.Time{}, fmt.Errorf("gps read: %w", err)
	}
	return time.Time{}, ErrNoFix
}

// rmcTime builds a UTC time from the two-digit RMC year: 70-99 map to the
// 1900s, 00-69 to the 2000s.
func rmcTime(d nmea.Date, t nmea.Time) time.Time {
	year := 2000 + d.YY
	if d.YY >= 70 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
