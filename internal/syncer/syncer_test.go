package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnote/internal/apierr"
	"calnote/internal/models"
)

type fakeSource struct {
	mu        sync.Mutex
	calendars []*models.Calendar
	events    map[string][]*models.Event
	listErr   error
	listPanic bool
	fetchErr  error
	gate      chan struct{} // when set, fetches block until it is closed
	started   chan struct{}

	fetches     int32
	requested   [][]string
	windowStart time.Time
	windowEnd   time.Time
}

func (f *fakeSource) ListCalendars(ctx context.Context) ([]*models.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listPanic {
		f.listPanic = false
		panic("calendar list exploded")
	}
	return f.calendars, f.listErr
}

func (f *fakeSource) ListEventsForMultipleCalendars(ctx context.Context, ids []string, start, end time.Time) (map[string][]*models.Event, error) {
	atomic.AddInt32(&f.fetches, 1)
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, ids)
	f.windowStart, f.windowEnd = start, end
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make(map[string][]*models.Event, len(ids))
	for _, id := range ids {
		out[id] = f.events[id]
	}
	return out, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

var fixedNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func timed(id, calID string, start, end time.Time) *models.Event {
	return &models.Event{
		ID: id, CalendarID: calID, Title: id,
		Start: models.EventDateTime{DateTime: start},
		End:   models.EventDateTime{DateTime: end},
	}
}

func allDay(id, calID, start, end string) *models.Event {
	return &models.Event{
		ID: id, CalendarID: calID, Title: id,
		Start: models.EventDateTime{Date: start},
		End:   models.EventDateTime{Date: end},
	}
}

func twoCalendars() *fakeSource {
	return &fakeSource{
		calendars: []*models.Calendar{{ID: "cal1", Name: "Work"}, {ID: "cal2", Name: "Home"}},
		events: map[string][]*models.Event{
			"cal1": {timed("standup", "cal1",
				time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC))},
			"cal2": {timed("dinner", "cal2",
				time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC))},
		},
	}
}

func newTestSyncer(source CalendarSource, settings Settings) (*Syncer, *recordingNotifier) {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.Interval == 0 {
		settings.Interval = 15 * time.Minute
	}
	notifier := &recordingNotifier{}
	s := NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), source, settings, notifier)
	s.SetClock(func() time.Time { return fixedNow })
	return s, notifier
}

func TestSyncNow_Success(t *testing.T) {
	source := twoCalendars()
	s, notifier := newTestSyncer(source, Settings{SyncAllCalendars: true})

	var updates [][]*models.Event
	s.OnEventsUpdated(func(events []*models.Event) { updates = append(updates, events) })
	var statuses []models.SyncStatus
	s.OnStatusChanged(func(state models.SyncState) { statuses = append(statuses, state.Status) })

	require.NoError(t, s.SyncNow(context.Background()))

	state := s.Status()
	assert.Equal(t, models.SyncSuccess, state.Status)
	assert.Equal(t, fixedNow, state.LastSync)
	assert.Equal(t, fixedNow.Add(15*time.Minute), state.NextSync)
	assert.Empty(t, state.ErrorMessage)

	assert.Equal(t, fixedNow.AddDate(0, -1, 0), source.windowStart)
	assert.Equal(t, fixedNow.AddDate(0, 3, 0), source.windowEnd)

	all := s.GetAllEvents()
	require.Len(t, all, 2)
	assert.Equal(t, "standup", all[0].ID)
	assert.Equal(t, "dinner", all[1].ID)

	require.Len(t, updates, 1)
	assert.Len(t, updates[0], 2)
	assert.Equal(t, []models.SyncStatus{models.SyncSyncing, models.SyncSuccess}, statuses)
	assert.Empty(t, notifier.messages)
	assert.Len(t, s.Calendars(), 2)
}

func TestSyncNow_SelectedCalendarsIntersectAccount(t *testing.T) {
	source := twoCalendars()
	s, _ := newTestSyncer(source, Settings{SelectedCalendars: []string{"cal1", "gone"}})

	require.NoError(t, s.SyncNow(context.Background()))

	require.Len(t, source.requested, 1)
	assert.Equal(t, []string{"cal1"}, source.requested[0])
	assert.Len(t, s.GetEventsForCalendar("cal1"), 1)
	assert.Empty(t, s.GetEventsForCalendar("cal2"))
}

func TestSyncNow_NoCalendarsSelectedIsError(t *testing.T) {
	source := twoCalendars()
	s, notifier := newTestSyncer(source, Settings{SelectedCalendars: []string{"other"}})

	err := s.SyncNow(context.Background())

	assert.ErrorIs(t, err, ErrNoCalendars)
	assert.Equal(t, models.SyncError, s.Status().Status)
	assert.Equal(t, ErrNoCalendars.Error(), s.Status().ErrorMessage)
	assert.Equal(t, int32(0), atomic.LoadInt32(&source.fetches))
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "no calendars selected")
}

func TestSyncNow_FailureKeepsPreviousCache(t *testing.T) {
	source := twoCalendars()
	s, notifier := newTestSyncer(source, Settings{SyncAllCalendars: true})
	require.NoError(t, s.SyncNow(context.Background()))
	before := s.GetAllEvents()

	source.mu.Lock()
	source.fetchErr = apierr.Auth("token refresh rejected", nil)
	source.events = map[string][]*models.Event{}
	source.mu.Unlock()

	err := s.SyncNow(context.Background())

	require.Error(t, err)
	assert.Equal(t, before, s.GetAllEvents())
	state := s.Status()
	assert.Equal(t, models.SyncError, state.Status)
	assert.Contains(t, state.ErrorMessage, "token refresh rejected")
	assert.Equal(t, fixedNow, state.LastSync, "last successful sync is kept")
	assert.Len(t, notifier.messages, 1)
}

func TestSyncNow_ListCalendarsFailure(t *testing.T) {
	source := twoCalendars()
	source.listErr = errors.New("boom")
	s, _ := newTestSyncer(source, Settings{SyncAllCalendars: true})

	err := s.SyncNow(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.SyncError, s.Status().Status)
	assert.Empty(t, s.GetAllEvents())
}

func TestSyncNow_PanicIsRecordedAndDoesNotWedge(t *testing.T) {
	source := twoCalendars()
	source.listPanic = true
	s, notifier := newTestSyncer(source, Settings{SyncAllCalendars: true})

	err := s.SyncNow(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar list exploded")
	state := s.Status()
	assert.Equal(t, models.SyncError, state.Status)
	assert.Contains(t, state.ErrorMessage, "calendar list exploded")
	require.Len(t, notifier.messages, 1)

	require.NoError(t, s.SyncNow(context.Background()))
	assert.Equal(t, models.SyncSuccess, s.Status().Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.fetches))
}

func TestSyncNow_PanickingSubscriberDoesNotWedge(t *testing.T) {
	s, _ := newTestSyncer(twoCalendars(), Settings{SyncAllCalendars: true})
	unsubscribe := s.OnEventsUpdated(func([]*models.Event) { panic("listener bug") })

	err := s.SyncNow(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.SyncError, s.Status().Status)
	assert.Len(t, s.GetAllEvents(), 2, "the cache was already replaced")

	unsubscribe()
	require.NoError(t, s.SyncNow(context.Background()))
	assert.Equal(t, models.SyncSuccess, s.Status().Status)
}

func TestSyncNow_ConcurrentCallsFetchOnce(t *testing.T) {
	source := twoCalendars()
	source.gate = make(chan struct{})
	source.started = make(chan struct{})
	s, _ := newTestSyncer(source, Settings{SyncAllCalendars: true})

	done := make(chan error, 1)
	go func() { done <- s.SyncNow(context.Background()) }()
	<-source.started

	// The first sync is parked inside the fetch.
	assert.Equal(t, models.SyncSyncing, s.Status().Status)
	assert.NoError(t, s.SyncNow(context.Background()))

	close(source.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.fetches))
	assert.Equal(t, models.SyncSuccess, s.Status().Status)
}

func TestGetEventsInRange(t *testing.T) {
	source := &fakeSource{
		calendars: []*models.Calendar{{ID: "cal1"}},
		events: map[string][]*models.Event{"cal1": {
			timed("inside", "cal1", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)),
			timed("before", "cal1", time.Date(2024, 1, 14, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 14, 11, 0, 0, 0, time.UTC)),
			timed("after", "cal1", time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 11, 0, 0, 0, time.UTC)),
			timed("overlaps-start", "cal1", time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)),
			timed("ends-at-start", "cal1", time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)),
			timed("starts-at-end", "cal1", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC)),
			allDay("offsite", "cal1", "2024-01-15", "2024-01-16"),
		}},
	}
	s, _ := newTestSyncer(source, Settings{SyncAllCalendars: true})
	require.NoError(t, s.SyncNow(context.Background()))

	got := s.GetEventsInRange(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC))

	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"inside", "overlaps-start", "offsite"}, ids)
}

func TestGetCalendarEventsInRange(t *testing.T) {
	s, _ := newTestSyncer(twoCalendars(), Settings{SyncAllCalendars: true})
	require.NoError(t, s.SyncNow(context.Background()))
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	work := s.GetCalendarEventsInRange("cal1", start, end)
	require.Len(t, work, 1)
	assert.Equal(t, "standup", work[0].ID)

	assert.Empty(t, s.GetCalendarEventsInRange("cal1", end, end.AddDate(0, 0, 1)))
	assert.Empty(t, s.GetCalendarEventsInRange("missing", start, end))
}

func TestGetEventsForDay_UsesDisplayLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 60*60)
	source := &fakeSource{
		calendars: []*models.Calendar{{ID: "cal1"}},
		events: map[string][]*models.Event{"cal1": {
			// 23:30 UTC on the 14th is 00:30 on the 15th in CET.
			timed("late", "cal1", time.Date(2024, 1, 14, 23, 30, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 30, 0, 0, time.UTC)),
			timed("next-day", "cal1", time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC), time.Date(2024, 1, 16, 0, 30, 0, 0, time.UTC)),
		}},
	}
	s, _ := newTestSyncer(source, Settings{SyncAllCalendars: true, Location: berlin})
	require.NoError(t, s.SyncNow(context.Background()))

	got := s.GetEventsForDay(time.Date(2024, 1, 15, 12, 0, 0, 0, berlin))

	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].ID)
}

func TestClearCache(t *testing.T) {
	s, _ := newTestSyncer(twoCalendars(), Settings{SyncAllCalendars: true})
	require.NoError(t, s.SyncNow(context.Background()))

	s.ClearCache()

	assert.Empty(t, s.GetAllEvents())
	assert.Equal(t, models.SyncSuccess, s.Status().Status, "sync state is untouched")
}

func TestUnsubscribe(t *testing.T) {
	s, _ := newTestSyncer(twoCalendars(), Settings{SyncAllCalendars: true})
	var calls int32
	unsubscribe := s.OnEventsUpdated(func([]*models.Event) { atomic.AddInt32(&calls, 1) })

	require.NoError(t, s.SyncNow(context.Background()))
	unsubscribe()
	unsubscribe()
	require.NoError(t, s.SyncNow(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveCalendarIDs(t *testing.T) {
	calendars := []*models.Calendar{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Equal(t, []string{"a", "b", "c"}, resolveCalendarIDs(calendars, Settings{SyncAllCalendars: true}))
	assert.Equal(t, []string{"a", "c"}, resolveCalendarIDs(calendars, Settings{SelectedCalendars: []string{"c", "a", "z"}}))
	assert.Empty(t, resolveCalendarIDs(calendars, Settings{}))
}
