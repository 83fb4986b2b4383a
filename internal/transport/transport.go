// Package transport delivers station status, readings and images to the
// collector over HTTP or MQTT.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloudpico-station/internal/types"
)

type Kind string

const (
	KindStatus  Kind = "status"
	KindReading Kind = "reading"
	KindImage   Kind = "image"
)

var (
	// ErrUnreachable means the collector could not be contacted at all.
	ErrUnreachable = errors.New("collector unreachable")
	// ErrRejected means the collector answered but did not accept the upload.
	ErrRejected = errors.New("collector rejected upload")
)

// Message is one upload. Name is the image file name for KindImage.
type Message struct {
	Kind      Kind
	Name      string
	Payload   []byte
	Timestamp string
}

type Transport interface {
	// Reachable probes the collector within ctx.
	Reachable(ctx context.Context) bool
	// Upload sends one message. A nil error means the collector accepted it.
	Upload(ctx context.Context, msg Message) error
	Close() error
}

// Telemetry is the reading payload.
type Telemetry struct {
	StationID   string   `json:"station_id"`
	ReadingID   string   `json:"reading_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature_c,omitempty"`
	Humidity    *float64 `json:"humidity_pct,omitempty"`
	Pressure    *float64 `json:"pressure_hpa,omitempty"`
	Dewpoint    *float64 `json:"dewpoint_c,omitempty"`
	Altitude    *float64 `json:"altitude_m,omitempty"`
}

// StatusReport is the status payload: which capabilities were detected at boot.
type StatusReport struct {
	StationID string          `json:"station_id"`
	Timestamp string          `json:"timestamp"`
	Sensors   map[string]bool `json:"sensors"`
	Backlog   int             `json:"backlog"`
}

func ReadingMessage(stationID string, r types.Reading) (Message, error) {
	payload, err := json.Marshal(Telemetry{
		StationID:   stationID,
		ReadingID:   r.ID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Dewpoint:    r.Dewpoint,
		Altitude:    r.Altitude,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal telemetry: %w", err)
	}
	return Message{Kind: KindReading, Payload: payload, Timestamp: r.Timestamp}, nil
}

func StatusMessage(stationID string, status types.Status, timestamp string, backlog int) (Message, error) {
	payload, err := json.Marshal(StatusReport{
		StationID: stationID,
		Timestamp: timestamp,
		Sensors:   status.Flags(),
		Backlog:   backlog,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal status: %w", err)
	}
	return Message{Kind: KindStatus, Payload: payload, Timestamp: timestamp}, nil
}

func ImageMessage(r types.Reading, image []byte) Message {
	return Message{
		Kind:      KindImage,
		Name:      types.ImageName(r),
		Payload:   image,
		Timestamp: r.Timestamp,
	}
}
