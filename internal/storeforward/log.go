// Package storeforward buffers readings and their images while the collector is
// unreachable and replays them, oldest first, once it is back.
package storeforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloudpico-station/internal/fsys"
	"cloudpico-station/internal/types"
)

var ErrStorage = errors.New("store-forward storage failure")

// Record is one buffered reading. HasImage is true only while the image is
// held by the log.
type Record struct {
	types.Reading
	HasImage bool `json:"image"`
}

// ImageName is the name the record's image is uploaded under.
func (r Record) ImageName() string {
	return types.ImageName(r.Reading)
}

// imageFile is the name the buffered image is kept under. It is keyed by the
// reading ID since two readings may share a timestamp.
func (r Record) imageFile() string {
	return r.ID + ".jpg"
}

// Delivery is what Drain hands to the uploader for one record.
type Delivery struct {
	Record Record
	Image  []byte
}

// UploadFunc delivers one record. A nil error means the collector accepted the
// whole record and it may be removed.
type UploadFunc func(ctx context.Context, d Delivery) error

type Log interface {
	// Append buffers a reading and its optional image.
	Append(ctx context.Context, r types.Reading, image []byte) error
	// Drain uploads records oldest first, removing each after its upload
	// succeeds, and stops at the first failure. It returns how many records
	// were delivered and removed.
	Drain(ctx context.Context, upload UploadFunc) (int, error)
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Records(ctx context.Context) ([]Record, error)
	Close() error
}

const imagesDir = "images"

// imageStore keeps buffered images as individual files under images/.
type imageStore struct {
	fs     fsys.FS
	logger *slog.Logger
}

func (s imageStore) path(name string) string {
	return imagesDir + "/" + name
}

func (s imageStore) put(name string, data []byte) error {
	if err := s.fs.WriteFile(s.path(name), data); err != nil {
		return fmt.Errorf("store image %s: %w", name, err)
	}
	return nil
}

func (s imageStore) load(name string) ([]byte, error) {
	return s.fs.ReadFile(s.path(name))
}

func (s imageStore) remove(name string) {
	if err := s.fs.Remove(s.path(name)); err != nil {
		s.logger.Warn("storeforward: remove image failed", "image", name, "error", err)
	}
}
