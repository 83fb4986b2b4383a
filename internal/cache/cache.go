// Package cache persists the node's reference values (last clock sync, last
// collector contact, sea-level pressure) in one small JSON document.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"cloudpico-station/internal/fsys"
	"cloudpico-station/internal/types"
)

const (
	KeyNTP    = "NTP"
	KeyServer = "SERVER"
	KeyQNH    = "QNH"

	DefaultFile = "cache.json"
)

var (
	ErrCorrupt = errors.New("cache document corrupt")
	ErrStorage = errors.New("cache storage failure")
	ErrInvalid = errors.New("invalid cache entry")
)

// Entry is one cached value. Timestamp is types.TimestampNone when the entry is
// absent or was never written.
type Entry struct {
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

func (e Entry) Absent() bool {
	_, err := types.ParseTimestamp(e.Timestamp)
	return err != nil
}

func absent() Entry {
	return Entry{Timestamp: types.TimestampNone}
}

// document is the on-disk form. Flat entries are plain timestamp strings;
// nested entries are {"value": .., "timestamp": ..} objects.
type document map[string]json.RawMessage

func defaultDocument() document {
	return document{
		KeyNTP:    json.RawMessage(`"` + types.TimestampNone + `"`),
		KeyServer: json.RawMessage(`"` + types.TimestampNone + `"`),
		KeyQNH:    json.RawMessage(`{"value":0,"timestamp":"` + types.TimestampNone + `"}`),
	}
}

type Cache struct {
	fs     fsys.FS
	name   string
	logger *slog.Logger
}

func New(fs fsys.FS, name string, logger *slog.Logger) *Cache {
	if strings.TrimSpace(name) == "" {
		name = DefaultFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{fs: fs, name: name, logger: logger}
}

// Init writes the default document when none exists yet.
func (c *Cache) Init() error {
	if c.fs.Exists(c.name) {
		return nil
	}
	c.logger.Info("cache: creating default document", "file", c.name)
	return c.write(defaultDocument())
}

// Get returns the entry for key. A missing file, a corrupt document or a missing
// key all yield an absent entry.
func (c *Cache) Get(key string) Entry {
	doc, err := c.read()
	if err != nil {
		c.logger.Warn("cache: read failed, treating entry as absent", "key", key, "error", err)
		return absent()
	}
	raw, ok := doc[key]
	if !ok {
		return absent()
	}
	e, err := decodeEntry(raw)
	if err != nil {
		c.logger.Warn("cache: entry unreadable, treating as absent", "key", key, "error", err)
		return absent()
	}
	return e
}

// Entries returns every entry of the document.
func (c *Cache) Entries() (map[string]Entry, error) {
	doc, err := c.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(doc))
	for k, raw := range doc {
		e, err := decodeEntry(raw)
		if err != nil {
			e = absent()
		}
		out[k] = e
	}
	return out, nil
}

// Put stores a nested {value, timestamp} entry.
func (c *Cache) Put(key string, value float64, timestamp string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s value %v is not finite", ErrInvalid, key, value)
	}
	if !types.ValidTimestamp(timestamp) {
		return fmt.Errorf("%w: %s timestamp %q", ErrInvalid, key, timestamp)
	}
	raw, err := json.Marshal(Entry{Value: &value, Timestamp: timestamp})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.update(key, func(doc document) error {
		doc[key] = raw
		return nil
	})
}

// PutTimestamp stores a flat timestamp entry such as NTP or SERVER.
func (c *Cache) PutTimestamp(key, timestamp string) error {
	if !types.ValidTimestamp(timestamp) {
		return fmt.Errorf("%w: %s timestamp %q", ErrInvalid, key, timestamp)
	}
	raw, err := json.Marshal(timestamp)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.update(key, func(doc document) error {
		doc[key] = raw
		return nil
	})
}

// PutField sets one subfield of a nested entry, creating the entry if needed.
func (c *Cache) PutField(key, field string, value any) error {
	switch field {
	case "timestamp":
		s, ok := value.(string)
		if !ok || !types.ValidTimestamp(s) {
			return fmt.Errorf("%w: %s.timestamp %v", ErrInvalid, key, value)
		}
	case "value":
		f, ok := value.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s.value %v", ErrInvalid, key, value)
		}
	}
	fieldRaw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", key, field, err)
	}
	return c.update(key, func(doc document) error {
		obj := map[string]json.RawMessage{}
		if raw, ok := doc[key]; ok {
			// a flat or malformed entry is replaced by an object
			_ = json.Unmarshal(raw, &obj)
			if obj == nil {
				obj = map[string]json.RawMessage{}
			}
		}
		obj[field] = fieldRaw
		if _, ok := obj["timestamp"]; !ok {
			obj["timestamp"] = json.RawMessage(`"` + types.TimestampNone + `"`)
		}
		out, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		doc[key] = out
		return nil
	})
}

// Stale reports whether entry is too old to trust at now. An absent entry, an
// unset clock, or a clock behind the cached time all count as stale.
func Stale(entry Entry, now string, threshold time.Duration) bool {
	cached, err := types.ParseTimestamp(entry.Timestamp)
	if err != nil {
		return true
	}
	current, err := types.ParseTimestamp(now)
	if err != nil || types.ClockUnset(current) {
		return true
	}
	if current.Before(cached) {
		return true
	}
	return current.Sub(cached) > threshold
}

// update is the single read-modify-write path for every put. A missing or
// corrupt document is replaced by the default one before mutate runs.
func (c *Cache) update(key string, mutate func(document) error) error {
	doc, err := c.read()
	if err != nil {
		c.logger.Warn("cache: repairing document", "file", c.name, "error", err)
		doc = defaultDocument()
	}
	if err := mutate(doc); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if err := c.write(doc); err != nil {
		return err
	}
	c.logger.Debug("cache: updated", "key", key)
	return nil
}

func (c *Cache) read() (document, error) {
	if !c.fs.Exists(c.name) {
		return nil, fmt.Errorf("%w: %s missing", ErrCorrupt, c.name)
	}
	b, err := c.fs.ReadFile(c.name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, c.name, err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCorrupt, c.name, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrCorrupt, c.name)
	}
	return doc, nil
}

func (c *Cache) write(doc document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrStorage, err)
	}
	if err := c.fs.WriteFile(c.name, b); err != nil {
		c.logger.Error("cache: write failed", "file", c.name, "error", err)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return normalize(Entry{Timestamp: flat}), nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return normalize(e), nil
}

func normalize(e Entry) Entry {
	if e.Absent() {
		e.Timestamp = types.TimestampNone
	}
	return e
}
