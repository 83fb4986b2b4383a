package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloudpico-station/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captured struct {
	path    string
	header  http.Header
	body    []byte
	ctype   string
	station string
}

type collector struct {
	mu     sync.Mutex
	got    []captured
	status int
}

func (c *collector) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	post := func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.got = append(c.got, captured{
			path:    r.URL.Path,
			header:  r.Header.Clone(),
			body:    b,
			ctype:   r.Header.Get("Content-Type"),
			station: r.Header.Get(HeaderStationID),
		})
		status := c.status
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}
	mux.HandleFunc("POST /api/status", post)
	mux.HandleFunc("POST /api/reading", post)
	mux.HandleFunc("POST /api/images", post)
	return mux
}

func TestHTTP_ReachableAndUpload(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler())
	t.Cleanup(srv.Close)

	h := NewHTTP(srv.URL+"/", "ESMX-1", time.Second, quietLogger())
	t.Cleanup(func() { _ = h.Close() })
	ctx := context.Background()

	if !h.Reachable(ctx) {
		t.Fatal("Reachable = false")
	}

	r := types.NewReading("2024-05-05 10:00:00")
	r.Temperature = types.Float(18.25)
	msg, err := ReadingMessage("ESMX-1", r)
	if err != nil {
		t.Fatalf("ReadingMessage: %v", err)
	}
	if err := h.Upload(ctx, msg); err != nil {
		t.Fatalf("Upload reading: %v", err)
	}
	if err := h.Upload(ctx, ImageMessage(r, []byte{0xFF, 0xD8})); err != nil {
		t.Fatalf("Upload image: %v", err)
	}

	if len(c.got) != 2 {
		t.Fatalf("collector got %d requests", len(c.got))
	}
	reading, image := c.got[0], c.got[1]
	if reading.path != "/api/reading" || reading.ctype != "application/json" || reading.station != "ESMX-1" {
		t.Errorf("reading request = %+v", reading)
	}
	if reading.header.Get(HeaderTimestamp) != "2024-05-05 10:00:00" {
		t.Errorf("timestamp header = %q", reading.header.Get(HeaderTimestamp))
	}
	var tel Telemetry
	if err := json.Unmarshal(reading.body, &tel); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if tel.ReadingID != r.ID || tel.Temperature == nil || *tel.Temperature != 18.25 || tel.Humidity != nil {
		t.Errorf("telemetry = %+v", tel)
	}
	if image.path != "/api/images" || image.ctype != "image/jpeg" || image.header.Get(HeaderImageName) != "2024_05_05_10_00_00.jpg" {
		t.Errorf("image request = %+v", image)
	}
}

func TestHTTP_Rejected(t *testing.T) {
	c := &collector{status: http.StatusInternalServerError}
	srv := httptest.NewServer(c.handler())
	t.Cleanup(srv.Close)

	h := NewHTTP(srv.URL, "x", time.Second, quietLogger())
	msg, _ := StatusMessage("x", types.Camera|types.Network, "2024-01-01 00:00:00", 0)
	err := h.Upload(context.Background(), msg)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := NewHTTP(url, "x", 200*time.Millisecond, quietLogger())
	if h.Reachable(context.Background()) {
		t.Fatal("Reachable = true for closed server")
	}
	err := h.Upload(context.Background(), Message{Kind: KindReading, Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestHTTP_ProbeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	if NewHTTP(srv.URL, "x", time.Second, quietLogger()).Reachable(context.Background()) {
		t.Error("Reachable = true on 503")
	}
}

func TestHTTP_UnknownKind(t *testing.T) {
	h := NewHTTP("http://127.0.0.1:1", "x", time.Second, quietLogger())
	if err := h.Upload(context.Background(), Message{Kind: "video"}); err == nil {
		t.Fatal("Upload unknown kind: error = nil")
	}
}

func TestStatusMessage(t *testing.T) {
	msg, err := StatusMessage("st", types.Camera|types.Pressure, "2024-01-01 00:00:00", 3)
	if err != nil {
		t.Fatalf("StatusMessage: %v", err)
	}
	var rep StatusReport
	if err := json.Unmarshal(msg.Payload, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rep.Sensors["cam"] || !rep.Sensors["bmp"] || rep.Sensors["sht"] || rep.Backlog != 3 {
		t.Errorf("report = %+v", rep)
	}
}

func TestMQTT_Topics(t *testing.T) {
	m := NewMQTT(MQTTOptions{Broker: "localhost", Port: 1883, ClientID: "t", StationID: "home"}, quietLogger())
	cases := []struct {
		msg  Message
		want string
	}{
		{Message{Kind: KindStatus}, "stations/home/status"},
		{Message{Kind: KindReading}, "stations/home/telemetry"},
		{Message{Kind: KindImage, Name: "2024_01_01_00_00_00.jpg"}, "stations/home/image/2024_01_01_00_00_00.jpg"},
	}
	for _, tc := range cases {
		got, err := m.Topic(tc.msg)
		if err != nil || got != tc.want {
			t.Errorf("Topic(%v) = %q, %v; want %q", tc.msg.Kind, got, err, tc.want)
		}
	}
	if _, err := m.Topic(Message{Kind: KindImage}); err == nil {
		t.Error("nameless image topic: error = nil")
	}
}

func TestMQTT_UploadWhenDisconnected(t *testing.T) {
	m := NewMQTT(MQTTOptions{Broker: "127.0.0.1", Port: 1, ClientID: "t", StationID: "home"}, quietLogger())
	err := m.Upload(context.Background(), Message{Kind: KindReading, Payload: []byte(`{}`)})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
