package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderStationID = "Station-ID"
	HeaderTimestamp = "timestamp"
	HeaderImageName = "Image-Name"
)

var httpPaths = map[Kind]string{
	KindStatus:  "/api/status",
	KindReading: "/api/reading",
	KindImage:   "/api/images",
}

// HTTP posts uploads to a collector's REST endpoints.
type HTTP struct {
	baseURL      string
	stationID    string
	client       *http.Client
	probeTimeout time.Duration
	logger       *slog.Logger
}

func NewHTTP(baseURL, stationID string, probeTimeout time.Duration, logger *slog.Logger) *HTTP {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		baseURL:      strings.TrimRight(baseURL, "/"),
		stationID:    stationID,
		client:       &http.Client{},
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// Reachable reports whether GET / answers 200 within the probe timeout.
func (h *HTTP) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/", nil)
	if err != nil {
		h.logger.Warn("transport: bad collector url", "url", h.baseURL, "error", err)
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Info("transport: collector unreachable", "url", h.baseURL, "error", err)
		return false
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		h.logger.Info("transport: collector probe failed", "url", h.baseURL, "status", resp.StatusCode)
		return false
	}
	return true
}

func (h *HTTP) Upload(ctx context.Context, msg Message) error {
	path, ok := httpPaths[msg.Kind]
	if !ok {
		return fmt.Errorf("unknown upload kind %q", msg.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(msg.Payload))
	if err != nil {
		return err
	}
	if msg.Kind == KindImage {
		req.Header.Set("Content-Type", "image/jpeg")
		req.Header.Set(HeaderImageName, msg.Name)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderStationID, h.stationID)
	req.Header.Set(HeaderTimestamp, msg.Timestamp)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post %s: %v", ErrUnreachable, path, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: post %s: status %d", ErrRejected, path, resp.StatusCode)
	}
	h.logger.Debug("transport: uploaded", "kind", msg.Kind, "bytes", len(msg.Payload), "status", resp.StatusCode)
	return nil
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
