package syncer

import (
	"sort"
	"time"

	"calnote/internal/models"
)

// GetAllEvents returns every cached event ordered by start time.
func (s *Syncer) GetAllEvents() []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flattenLocked()
}

// GetEventsForCalendar returns the cached events of one calendar.
func (s *Syncer) GetEventsForCalendar(calendarID string) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.cache[calendarID]
	out := make([]*models.Event, len(events))
	copy(out, events)
	return out
}

// GetEventsInRange returns the events overlapping [start, end). An event
// overlaps when it starts before end and ends after start, so events that
// only touch a boundary are excluded.
func (s *Syncer) GetEventsInRange(start, end time.Time) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return overlapping(s.flattenLocked(), s.settings.location(), start, end)
}

// GetCalendarEventsInRange is GetEventsInRange limited to one calendar.
func (s *Syncer) GetCalendarEventsInRange(calendarID string, start, end time.Time) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return overlapping(s.cache[calendarID], s.settings.location(), start, end)
}

func overlapping(events []*models.Event, loc *time.Location, start, end time.Time) []*models.Event {
	var out []*models.Event
	for _, event := range events {
		eventStart, eventEnd := event.Interval(loc)
		if eventStart.Before(end) && eventEnd.After(start) {
			out = append(out, event)
		}
	}
	return out
}

// GetEventsForDay returns the events overlapping the calendar day of date,
// midnight to midnight in the display location.
func (s *Syncer) GetEventsForDay(date time.Time) []*models.Event {
	start, end := DayBounds(date, s.Settings().location())
	return s.GetEventsInRange(start, end)
}

// Calendars returns the calendar list seen by the last successful sync.
func (s *Syncer) Calendars() []*models.Calendar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Calendar, len(s.calendars))
	copy(out, s.calendars)
	return out
}

// Calendar returns a calendar from the last successful sync by id.
func (s *Syncer) Calendar(id string) (*models.Calendar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cal := range s.calendars {
		if cal.ID == id {
			return cal, true
		}
	}
	return nil, false
}

// DayBounds returns local midnight of date's day in loc and the following midnight.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func (s *Syncer) flattenLocked() []*models.Event {
	loc := s.settings.location()
	var out []*models.Event
	for _, events := range s.cache {
		out = append(out, events...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Start.Time(loc), out[j].Start.Time(loc)
		if !a.Equal(b) {
			return a.Before(b)
		}
		if out[i].CalendarID != out[j].CalendarID {
			return out[i].CalendarID < out[j].CalendarID
		}
		return out[i].ID < out[j].ID
	})
	return out
}
