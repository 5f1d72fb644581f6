package timeline

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnote/internal/models"
)

type fakeSource struct {
	mu        sync.Mutex
	events    []*models.Event
	calendars map[string]*models.Calendar
	state     models.SyncState
	onEvents  map[int]func([]*models.Event)
	onStatus  map[int]func(models.SyncState)
	next      int
	askedDay  time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calendars: map[string]*models.Calendar{"cal1": {ID: "cal1", Name: "Work", BackgroundColor: "#9fe1e7"}},
		onEvents:  map[int]func([]*models.Event){},
		onStatus:  map[int]func(models.SyncState){},
	}
}

func (f *fakeSource) GetEventsForDay(date time.Time) []*models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.askedDay = date
	return f.events
}

func (f *fakeSource) Calendar(id string) (*models.Calendar, bool) {
	cal, ok := f.calendars[id]
	return cal, ok
}

func (f *fakeSource) Status() models.SyncState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) OnEventsUpdated(fn func([]*models.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.onEvents[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onEvents, id)
	}
}

func (f *fakeSource) OnStatusChanged(fn func(models.SyncState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.onStatus[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.onStatus, id)
	}
}

func (f *fakeSource) publish(events []*models.Event) {
	f.mu.Lock()
	f.events = events
	fns := make([]func([]*models.Event), 0, len(f.onEvents))
	for _, fn := range f.onEvents {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(events)
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onEvents) + len(f.onStatus)
}

var day = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newView(source Source, out io.Writer) *View {
	v := New(slog.New(slog.NewTextHandler(io.Discard, nil)), source, out, Options{Location: time.UTC})
	v.SetDay(day)
	return v
}

func TestRender_Agenda(t *testing.T) {
	source := newFakeSource()
	source.state = models.SyncState{Status: models.SyncSuccess, LastSync: time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)}
	source.events = []*models.Event{
		{ID: "a", CalendarID: "cal1", Title: "Offsite", Start: models.EventDateTime{Date: "2024-01-15"}, End: models.EventDateTime{Date: "2024-01-16"}},
		{ID: "b", CalendarID: "cal1", Title: "Standup",
			Start: models.EventDateTime{DateTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
			End:   models.EventDateTime{DateTime: time.Date(2024, 1, 15, 10, 15, 0, 0, time.UTC)}},
		{ID: "c", CalendarID: "other", Title: "Red-eye",
			Start: models.EventDateTime{DateTime: time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC)},
			End:   models.EventDateTime{DateTime: time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC)}},
	}
	var buf bytes.Buffer

	require.NoError(t, newView(source, &buf).Render(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Monday, January 15 2024", strings.TrimSpace(lines[0]))
	assert.Equal(t, "Last synced 08:30", strings.TrimSpace(lines[1]))
	assert.Contains(t, lines[3], "All day")
	assert.Contains(t, lines[3], "Offsite [Work]")
	assert.Contains(t, lines[4], "10:00-10:15")
	assert.Contains(t, lines[4], "Standup [Work]")
	assert.Contains(t, lines[5], "22:00-...")
	assert.NotContains(t, lines[5], "[")
	assert.Equal(t, day, source.askedDay)
}

func TestRender_EmptyAndError(t *testing.T) {
	source := newFakeSource()
	source.state = models.SyncState{Status: models.SyncError, ErrorMessage: "network down"}
	var buf bytes.Buffer

	require.NoError(t, newView(source, &buf).Render(&buf))

	assert.Contains(t, buf.String(), "Sync failed: network down")
	assert.Contains(t, buf.String(), "No events")
}

func TestShowHide_Subscriptions(t *testing.T) {
	source := newFakeSource()
	var buf bytes.Buffer
	v := newView(source, &buf)

	v.OnShow()
	v.OnShow()
	assert.Equal(t, 2, source.subscribers())
	assert.Equal(t, 1, strings.Count(buf.String(), "January 15"), "show draws once")

	source.publish([]*models.Event{{ID: "x", Title: "Lunch",
		Start: models.EventDateTime{DateTime: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		End:   models.EventDateTime{DateTime: time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)}}})
	assert.Contains(t, buf.String(), "Lunch")
	assert.Equal(t, 2, strings.Count(buf.String(), "January 15"))

	v.OnHide()
	assert.Zero(t, source.subscribers())
	source.publish(nil)
	assert.Equal(t, 2, strings.Count(buf.String(), "January 15"), "hidden views do not redraw")
}
