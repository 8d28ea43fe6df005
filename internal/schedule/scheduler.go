// Package schedule runs the reminder scheduler: durable entries that
// fire on an interval or at a daily time and are delivered to the agent
// as synthetic inbound messages.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gigabot/internal/domain"
)

// Entry is one scheduled reminder. Exactly one of IntervalS or Daily is
// set: IntervalS repeats every N seconds, Daily fires once a day at the
// given local "HH:MM".
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	IntervalS int       `json:"intervalSeconds,omitempty"`
	Daily     string    `json:"daily,omitempty"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chatId"`
	Enabled   bool      `json:"enabled"`
	LastRun   time.Time `json:"lastRun"`
	NextRun   time.Time `json:"nextRun"`
}

type Scheduler struct {
	entries   map[string]*Entry
	bus       domain.MessageBus
	logger    *slog.Logger
	statePath string
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
}

type Config struct {
	StatePath string
	Bus       domain.MessageBus
	Logger    *slog.Logger
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		entries:   make(map[string]*Entry),
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		statePath: cfg.StatePath,
		stopCh:    make(chan struct{}),
	}
	if err := s.load(); err != nil {
		s.logger.Warn("scheduler state not loaded", "path", s.statePath, "err", err)
	}
	return s
}

// Add registers an entry, assigning an ID and computing the first run.
// Returns the stored entry.
func (s *Scheduler) Add(e Entry) (Entry, error) {
	if e.IntervalS <= 0 && e.Daily == "" {
		return Entry{}, fmt.Errorf("entry needs an interval or a daily time")
	}
	if e.Daily != "" {
		if _, err := parseDaily(e.Daily); err != nil {
			return Entry{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()[:8]
	}
	e.Enabled = true
	e.NextRun = nextRun(e, time.Now())
	s.entries[e.ID] = &e
	s.saveLocked()
	s.logger.Info("reminder added", "id", e.ID, "name", e.Name, "next", e.NextRun)
	return e, nil
}

func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.saveLocked()
	s.logger.Info("reminder removed", "id", id)
	return true
}

func (s *Scheduler) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].NextRun.Before(entries[j].NextRun) })
	return entries
}

// Start runs the tick loop until the context is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "entries", len(s.entries))
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fired := false
	for _, e := range s.entries {
		if !e.Enabled || now.Before(e.NextRun) {
			continue
		}
		s.logger.Info("reminder due", "id", e.ID, "name", e.Name)
		s.bus.PublishInbound(domain.InboundMessage{
			Channel:   e.Channel,
			ChatID:    e.ChatID,
			SenderID:  "cron:" + e.ID,
			Content:   e.Message,
			Timestamp: now,
		})
		e.LastRun = now
		e.NextRun = nextRun(*e, now)
		fired = true
	}
	if fired {
		s.saveLocked()
	}
}

// nextRun computes the run after `from` for the entry's schedule.
func nextRun(e Entry, from time.Time) time.Time {
	if e.IntervalS > 0 {
		return from.Add(time.Duration(e.IntervalS) * time.Second)
	}
	at, _ := parseDaily(e.Daily)
	next := time.Date(from.Year(), from.Month(), from.Day(), at.hour, at.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type dayTime struct {
	hour, minute int
}

func parseDaily(s string) (dayTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return dayTime{}, fmt.Errorf("daily time must be HH:MM, got %q", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return dayTime{}, fmt.Errorf("daily time must be HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return dayTime{}, fmt.Errorf("daily time out of range: %q", s)
	}
	return dayTime{hour: h, minute: m}, nil
}

// --- persistence ---

func (s *Scheduler) load() error {
	if s.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		// Missed runs while the process was down fire on the next tick.
		if e.NextRun.IsZero() {
			e.NextRun = nextRun(*e, now)
		}
		s.entries[e.ID] = e
	}
	return nil
}

func (s *Scheduler) saveLocked() {
	if s.statePath == "" {
		return
	}
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error("marshal scheduler state", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0o755); err != nil {
		s.logger.Error("create state dir", "err", err)
		return
	}
	if err := os.WriteFile(s.statePath, data, 0o600); err != nil {
		s.logger.Error("write scheduler state", "path", s.statePath, "err", err)
	}
}
