package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"calnote/internal/models"
)

// ErrNoCalendars is returned when the settings select no calendar the
// account can see.
var ErrNoCalendars = errors.New("no calendars selected for sync")

// CalendarSource is the calendar client as seen by the orchestrator.
type CalendarSource interface {
	ListCalendars(ctx context.Context) ([]*models.Calendar, error)
	ListEventsForMultipleCalendars(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]*models.Event, error)
}

// Notifier surfaces short messages to the user.
type Notifier interface {
	Notify(message string)
}

// LogNotifier writes user-facing messages to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(message string) {
	n.Logger.Warn(message)
}

// Settings is the snapshot of user settings the orchestrator runs with.
type Settings struct {
	AutoSync          bool
	Interval          time.Duration
	SyncAllCalendars  bool
	SelectedCalendars []string
	// Location is the display zone used to place all-day events and day
	// boundaries. Nil means the local zone.
	Location *time.Location
}

func (s Settings) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// Syncer owns the event cache and keeps it in step with the provider.
type Syncer struct {
	logger   *slog.Logger
	source   CalendarSource
	notifier Notifier
	now      func() time.Time

	mu        sync.RWMutex
	settings  Settings
	cache     map[string][]*models.Event
	calendars []*models.Calendar
	state     models.SyncState

	cronMu sync.Mutex
	cron   *cron.Cron

	subs subscribers
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, source CalendarSource, settings Settings, notifier Notifier) *Syncer {
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Syncer{
		logger:   logger,
		source:   source,
		notifier: notifier,
		now:      time.Now,
		settings: settings,
		cache:    make(map[string][]*models.Event),
		state:    models.SyncState{Status: models.SyncIdle},
	}
}

// SetClock replaces the time source.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Settings returns the current settings snapshot.
func (s *Syncer) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the settings snapshot. A running auto-sync keeps
// its old interval until RestartAutoSync is called.
func (s *Syncer) UpdateSettings(settings Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

// Status returns a copy of the sync state.
func (s *Syncer) Status() models.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SyncNow performs a full synchronization cycle. If a cycle is already
// running it returns immediately. On success the whole cache is replaced;
// on failure the previous cache is kept and the error is recorded. A panic
// during the cycle is recovered and recorded as a failure.
func (s *Syncer) SyncNow(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state.Status == models.SyncSyncing {
		s.mu.Unlock()
		s.logger.Debug("Sync already in progress, skipping.")
		return nil
	}
	s.state.Status = models.SyncSyncing
	settings := s.settings
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync cycle panicked: %v", r)
			s.fail(err)
		}
	}()
	s.subs.emitStatus(s.Status())

	s.logger.Info("Starting sync cycle.")
	calendars, cache, err := s.fetch(ctx, settings)
	if err != nil {
		s.fail(err)
		return err
	}

	now := s.now()
	s.mu.Lock()
	s.cache = cache
	s.calendars = calendars
	s.state = models.SyncState{
		Status:   models.SyncSuccess,
		LastSync: now,
		NextSync: now.Add(settings.Interval),
	}
	events := s.flattenLocked()
	s.mu.Unlock()

	s.subs.emitStatus(s.Status())
	s.subs.emitEvents(events)
	s.logger.Info("Sync cycle finished.", "calendars", len(cache), "events", len(events))
	return nil
}

// fail records err as the sync state before telling anyone, so a listener
// that panics cannot leave the state at syncing.
func (s *Syncer) fail(err error) {
	s.mu.Lock()
	s.state.Status = models.SyncError
	s.state.ErrorMessage = err.Error()
	s.mu.Unlock()

	s.logger.Error("Sync cycle failed", "error", err)
	s.notifier.Notify("Calendar sync failed: " + err.Error())
	s.subs.emitStatus(s.Status())
}

// fetch resolves the calendars to sync and fetches their events for a
// window of one month back to three months ahead.
func (s *Syncer) fetch(ctx context.Context, settings Settings) ([]*models.Calendar, map[string][]*models.Event, error) {
	calendars, err := s.source.ListCalendars(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	ids := resolveCalendarIDs(calendars, settings)
	if len(ids) == 0 {
		return nil, nil, ErrNoCalendars
	}

	now := s.now()
	start := now.AddDate(0, -1, 0)
	end := now.AddDate(0, 3, 0)

	results, err := s.source.ListEventsForMultipleCalendars(ctx, ids, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	cache := make(map[string][]*models.Event, len(ids))
	for _, id := range ids {
		cache[id] = results[id]
	}
	return calendars, cache, nil
}

// resolveCalendarIDs returns every calendar id, or only the selected ones
// that the account actually has, in account order.
func resolveCalendarIDs(calendars []*models.Calendar, settings Settings) []string {
	ids := make([]string, 0, len(calendars))
	if settings.SyncAllCalendars {
		for _, cal := range calendars {
			ids = append(ids, cal.ID)
		}
		return ids
	}

	selected := make(map[string]bool, len(settings.SelectedCalendars))
	for _, id := range settings.SelectedCalendars {
		selected[id] = true
	}
	for _, cal := range calendars {
		if selected[cal.ID] {
			ids = append(ids, cal.ID)
		}
	}
	return ids
}

// ClearCache empties the event cache without touching the sync state.
func (s *Syncer) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string][]*models.Event)
	s.mu.Unlock()
	s.subs.emitEvents(nil)
}
