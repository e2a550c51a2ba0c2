// Package store keeps editorial calendar events in a single YAML document
// and hands out immutable snapshots to readers.
package store

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	appLog "parishcal/internal/log"
	"parishcal/internal/model"
	"parishcal/internal/recurrence"
)

var (
	ErrNotFound     = errors.New("store: event not found")
	ErrInvalidEvent = errors.New("store: invalid event")
)

// document is the on-disk layout of the events file.
type document struct {
	Events []model.Event `yaml:"events"`
}

// Store is a file-backed event collection. All methods are safe for
// concurrent use.
type Store struct {
	path string
	now  func() time.Time

	mu     sync.RWMutex
	events map[string]model.Event
	// digest is the hash of the file content last read or written.
	digest [sha256.Size]byte

	subMu sync.Mutex
	subs  []func()
}

// Open loads the events file at path. A missing file yields an empty store;
// the file is created on the first write.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}
	s := &Store{
		path:   path,
		now:    time.Now,
		events: make(map[string]model.Event),
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the events file location.
func (s *Store) Path() string { return s.path }

// OnChange registers fn to run after every mutation or reload.
func (s *Store) OnChange(fn func()) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) notify() {
	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// List returns a snapshot of all events sorted by ID.
func (s *Store) List() []model.Event {
	s.mu.RLock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Event) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) Get(id string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev.Clone(), nil
}

// Put creates or replaces an event. An empty ID gets a fresh UUID and an
// empty Source is treated as locally authored. The stored copy is returned.
func (s *Store) Put(ev model.Event) (model.Event, error) {
	if err := Validate(ev); err != nil {
		return model.Event{}, err
	}
	now := s.now().UTC()

	s.mu.Lock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = model.SourceLocal
	}
	if prev, ok := s.events[ev.ID]; ok {
		ev.CreatedAt = prev.CreatedAt
	} else if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	ev = ev.Clone()

	prev, existed := s.events[ev.ID]
	s.events[ev.ID] = ev
	if err := s.saveLocked(); err != nil {
		if existed {
			s.events[ev.ID] = prev
		} else {
			delete(s.events, ev.ID)
		}
		s.mu.Unlock()
		return model.Event{}, err
	}
	s.mu.Unlock()

	appLog.Info("store: event saved", "id", ev.ID, "repeat_type", ev.RepeatSettings.RepeatType)
	s.notify()
	return ev.Clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	prev, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.events, id)
	if err := s.saveLocked(); err != nil {
		s.events[id] = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	appLog.Info("store: event deleted", "id", id)
	s.notify()
	return nil
}

// ReplaceSource swaps every event whose Source equals source for events.
// Locally authored events are never touched. Invalid incoming events are
// skipped and counted.
func (s *Store) ReplaceSource(source string, events []model.Event) (int, error) {
	if source == "" || source == model.SourceLocal {
		return 0, fmt.Errorf("%w: cannot bulk replace source %q", ErrInvalidEvent, source)
	}
	now := s.now().UTC()

	s.mu.Lock()
	prev := s.events
	next := make(map[string]model.Event, len(prev)+len(events))
	for id, ev := range prev {
		if ev.Source != source {
			next[id] = ev
		}
	}
	skipped := 0
	for _, ev := range events {
		ev.Source = source
		if ev.ID == "" {
			skipped++
			continue
		}
		if err := Validate(ev); err != nil {
			appLog.Warn("store: skipping invalid imported event", "source", source, "id", ev.ID, "err", err.Error())
			skipped++
			continue
		}
		if old, ok := prev[ev.ID]; ok && old.Source != source {
			appLog.Warn("store: imported event collides with existing id", "source", source, "id", ev.ID)
			skipped++
			continue
		}
		if old, ok := prev[ev.ID]; ok {
			ev.CreatedAt = old.CreatedAt
		} else {
			ev.CreatedAt = now
		}
		ev.UpdatedAt = now
		next[ev.ID] = ev.Clone()
	}
	s.events = next
	if err := s.saveLocked(); err != nil {
		s.events = prev
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	appLog.Info("store: source replaced", "source", source, "imported", len(events)-skipped, "skipped", skipped)
	s.notify()
	return skipped, nil
}

// Reload re-reads the events file, e.g. after an external edit. Content
// identical to what the store last read or wrote is ignored.
func (s *Store) Reload() error {
	changed, err := s.load()
	if err != nil {
		return err
	}
	if changed {
		s.notify()
	}
	return nil
}

// Validate checks the fields the occurrence calculator depends on.
func Validate(ev model.Event) error {
	if strings.TrimSpace(ev.Title) == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidEvent)
	}
	if ev.EventDate.IsZero() {
		return fmt.Errorf("%w: eventDate is missing", ErrInvalidEvent)
	}
	if _, err := recurrence.PolicyFromSettings(ev.RepeatSettings); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	for _, d := range ev.RepeatSettings.WeeklyDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidEvent, d)
		}
	}
	switch ev.Language {
	case "", "ru", "en":
	default:
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidEvent, ev.Language)
	}
	return nil
}

func (s *Store) load() (bool, error) {
	// Held across read, compare and swap so a concurrent Put cannot be
	// overwritten by an older file image.
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			changed := len(s.events) > 0
			s.events = make(map[string]model.Event)
			s.digest = [sha256.Size]byte{}
			appLog.Info("store: events file not found; starting empty", "path", s.path)
			return changed, nil
		}
		return false, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	sum := sha256.Sum256(data)
	if sum == s.digest {
		return false, nil
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", s.path, err)
	}

	events := make(map[string]model.Event, len(doc.Events))
	for _, ev := range doc.Events {
		if ev.ID == "" {
			appLog.Warn("store: skipping event without id", "path", s.path, "title", ev.Title)
			continue
		}
		if err := Validate(ev); err != nil {
			appLog.Error("store: skipping invalid event", err, "path", s.path, "id", ev.ID)
			continue
		}
		if _, dup := events[ev.ID]; dup {
			appLog.Warn("store: duplicate event id; keeping first", "path", s.path, "id", ev.ID)
			continue
		}
		if ev.Source == "" {
			ev.Source = model.SourceLocal
		}
		events[ev.ID] = ev
	}

	s.events = events
	s.digest = sum

	appLog.Info("store: loaded", "path", s.path, "event_count", len(events))
	return true, nil
}

// saveLocked writes the events file atomically. Callers hold s.mu.
func (s *Store) saveLocked() error {
	doc := document{Events: make([]model.Event, 0, len(s.events))}
	for _, ev := range s.events {
		doc.Events = append(doc.Events, ev)
	}
	slices.SortFunc(doc.Events, func(a, b model.Event) int { return strings.Compare(a.ID, b.ID) })

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	s.digest = sha256.Sum256(data)
	return nil
}
