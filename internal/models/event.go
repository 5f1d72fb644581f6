package models

import "time"

// DateLayout is the layout of date-only values used by all-day events.
const DateLayout = "2006-01-02"

// EventDateTime is either a date-only value (all-day events) or an instant
// with an optional IANA time zone name.
type EventDateTime struct {
	Date     string    // Date-only value in DateLayout, set for all-day events
	DateTime time.Time // Instant, set for timed events
	TimeZone string    // IANA zone the provider reported for the instant
}

// IsAllDay reports whether the value carries a date and no time component.
func (d EventDateTime) IsAllDay() bool {
	return d.Date != "" && d.DateTime.IsZero()
}

// Time resolves the value to an instant. Date-only values resolve to local
// midnight in loc. A zero time is returned if the value is empty or malformed.
func (d EventDateTime) Time(loc *time.Location) time.Time {
	if !d.DateTime.IsZero() {
		return d.DateTime
	}
	if d.Date == "" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, d.Date, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Attendee is a single invitee of an event.
type Attendee struct {
	Email          string
	DisplayName    string
	ResponseStatus string // needsAction, declined, tentative or accepted
}

// Name returns the display name, falling back to the email address.
func (a Attendee) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}

// Person identifies the creator or organizer of an event.
type Person struct {
	Email       string
	DisplayName string
}

// Event represents a calendar event.
// This is an internal representation, independent of the provider's wire format.
type Event struct {
	ID          string        // Provider identifier of the event
	CalendarID  string        // Calendar the event belongs to
	Title       string        // Summary or title of the event
	Description string        // Detailed description of the event
	Location    string        // Location of the event
	Start       EventDateTime // Start of the event
	End         EventDateTime // End of the event (exclusive)
	Attendees   []Attendee    // Invitees
	ColorID     string        // Event color id in the provider palette
	HTMLLink    string        // Link to the event in the provider UI
	Status      string        // confirmed, tentative or cancelled
	Created     time.Time
	Updated     time.Time
	Creator     Person
	Organizer   Person
}

// IsAllDay reports whether the event spans whole days.
func (e *Event) IsAllDay() bool {
	return e.Start.IsAllDay()
}

// Interval returns the start and end instants of the event, resolving
// date-only values in loc.
func (e *Event) Interval(loc *time.Location) (time.Time, time.Time) {
	return e.Start.Time(loc), e.End.Time(loc)
}
