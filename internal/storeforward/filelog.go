package storeforward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cloudpico-station/internal/fsys"
	"cloudpico-station/internal/types"
)

const DefaultLogFile = "log.json"

type logDocument struct {
	Readings []Record `json:"readings"`
}

// FileLog keeps the backlog in one JSON document and each image in its own file.
// Every mutation rewrites the document atomically.
type FileLog struct {
	mu     sync.Mutex
	fs     fsys.FS
	name   string
	images imageStore
	logger *slog.Logger
	now    func() time.Time
}

func NewFileLog(fs fsys.FS, name string, logger *slog.Logger) *FileLog {
	if strings.TrimSpace(name) == "" {
		name = DefaultLogFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLog{
		fs:     fs,
		name:   name,
		images: imageStore{fs: fs, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

func (l *FileLog) Append(ctx context.Context, r types.Reading, image []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}

	rec := Record{Reading: r}
	if len(image) > 0 {
		if err := l.images.put(rec.imageFile(), image); err != nil {
			l.logger.Error("storeforward: image not buffered", "reading", r.ID, "error", err)
		} else {
			rec.HasImage = true
		}
	}

	records = append(records, rec)
	if err := l.save(records); err != nil {
		if rec.HasImage {
			l.images.remove(rec.imageFile())
		}
		return err
	}
	l.logger.Info("storeforward: buffered", "reading", r.ID, "timestamp", r.Timestamp, "image", rec.HasImage, "size", len(records))
	return nil
}

func (l *FileLog) Drain(ctx context.Context, upload UploadFunc) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return 0, err
	}
	delivered := 0
	for len(records) > 0 {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		rec := records[0]
		d := Delivery{Record: rec}
		if rec.HasImage {
			img, err := l.images.load(rec.imageFile())
			if err != nil {
				l.logger.Warn("storeforward: buffered image missing, delivering without it", "reading", rec.ID, "error", err)
				d.Record.HasImage = false
			} else {
				d.Image = img
			}
		}

		if err := upload(ctx, d); err != nil {
			l.logger.Info("storeforward: drain stopped", "delivered", delivered, "remaining", len(records), "error", err)
			return delivered, fmt.Errorf("deliver %s: %w", rec.ID, err)
		}

		// the record leaves the log before its image is deleted
		if err := l.save(records[1:]); err != nil {
			return delivered, err
		}
		records = records[1:]
		delivered++
		if rec.HasImage {
			l.images.remove(rec.imageFile())
		}
	}
	if delivered > 0 {
		l.logger.Info("storeforward: drained", "delivered", delivered)
	}
	return delivered, nil
}

func (l *FileLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	if err := l.save(nil); err != nil {
		return err
	}
	for _, rec := range records {
		if rec.HasImage {
			l.images.remove(rec.imageFile())
		}
	}
	return nil
}

func (l *FileLog) Size(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, err := l.load()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (l *FileLog) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *FileLog) Close() error {
	return nil
}

// load returns the buffered records. A missing document is an empty log; a
// corrupt one is empty only once it has been moved aside. Any other failure is
// ErrStorage so callers never write over a backlog they could not read.
func (l *FileLog) load() ([]Record, error) {
	b, err := l.fs.ReadFile(l.name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		l.logger.Error("storeforward: read log failed", "file", l.name, "error", err)
		return nil, fmt.Errorf("%w: read log: %v", ErrStorage, err)
	}
	var doc logDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		if qerr := l.quarantine(err); qerr != nil {
			return nil, qerr
		}
		return nil, nil
	}
	return doc.Readings, nil
}

func (l *FileLog) quarantine(cause error) error {
	aside := fmt.Sprintf("%s.corrupt-%d", l.name, l.now().Unix())
	if err := l.fs.Rename(l.name, aside); err != nil {
		l.logger.Error("storeforward: corrupt log could not be moved aside", "file", l.name, "parse_error", cause, "error", err)
		return fmt.Errorf("%w: move corrupt log aside: %v", ErrStorage, err)
	}
	l.logger.Error("storeforward: corrupt log moved aside", "file", l.name, "moved_to", aside, "error", cause)
	return nil
}

func (l *FileLog) save(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	b, err := json.Marshal(logDocument{Readings: records})
	if err != nil {
		return fmt.Errorf("%w: encode log: %v", ErrStorage, err)
	}
	if err := l.fs.WriteFile(l.name, b); err != nil {
		l.logger.Error("storeforward: write log failed", "file", l.name, "error", err)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}
