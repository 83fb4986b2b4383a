package timesync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/ntp"

	"cloudpico-station/internal/types"
)

const DefaultNTPServer = "pool.ntp.org"

// NTPSource queries an NTP server. It needs the network.
type NTPSource struct {
	Server  string
	Timeout time.Duration

	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
}

func NewNTPSource(server string, timeout time.Duration) *NTPSource {
	if strings.TrimSpace(server) == "" {
		server = DefaultNTPServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NTPSource{Server: server, Timeout: timeout, query: ntp.QueryWithOptions}
}

func (s *NTPSource) Name() string { return "ntp" }

func (s *NTPSource) Requires() types.Status { return types.Network }

func (s *NTPSource) Fetch(ctx context.Context) (time.Time, error) {
	timeout := s.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return time.Time{}, context.DeadlineExceeded
	}

	type result struct {
		resp *ntp.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.query(s.Server, ntp.QueryOptions{Timeout: timeout})
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return time.Time{}, fmt.Errorf("ntp query %s: %w", s.Server, r.err)
		}
		if err := r.resp.Validate(); err != nil {
			return time.Time{}, fmt.Errorf("ntp response from %s: %w", s.Server, err)
		}
		return time.Now().Add(r.resp.ClockOffset).UTC(), nil
	}
}
