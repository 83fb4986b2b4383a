package qnh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	DefaultURL      = "https://api.metar-taf.com/metar"
	DefaultJSONPath = "metar.qnh"
)

var ErrNoValue = errors.New("qnh: value missing from response")

// METARFetcher reads QNH from a METAR JSON API.
type METARFetcher struct {
	URL      string
	APIKey   string
	Station  string
	JSONPath string
	Client   *http.Client
}

func NewMETARFetcher(rawURL, apiKey, station, path string) *METARFetcher {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultURL
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultJSONPath
	}
	return &METARFetcher{
		URL:      rawURL,
		APIKey:   apiKey,
		Station:  station,
		JSONPath: path,
		Client:   &http.Client{},
	}
}

func (f *METARFetcher) Fetch(ctx context.Context) (float64, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return 0, fmt.Errorf("qnh url %q: %w", f.URL, err)
	}
	q := u.Query()
	q.Set("api_key", f.APIKey)
	q.Set("v", "2.3")
	q.Set("locale", "en-US")
	q.Set("id", f.Station)
	q.Set("station_id", f.Station)
	q.Set("test", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qnh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("qnh read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("qnh request: status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("qnh response: invalid json")
	}

	res := gjson.GetBytes(body, f.JSONPath)
	switch res.Type {
	case gjson.Number:
		return res.Float(), nil
	case gjson.String:
		if v, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w at %q", ErrNoValue, f.JSONPath)
}
