// Package export encodes cached events as iCalendar data.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-ical"

	"calnote/internal/models"
)

// ProductID identifies calnote in generated calendars.
const ProductID = "-//calnote//EN"

// NewCalendar returns an empty VCALENDAR with the required properties set.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// Calendar builds a VCALENDAR holding one VEVENT per event. Events without a
// usable start are skipped.
func Calendar(events []*models.Event, stamp time.Time) *ical.Calendar {
	cal := NewCalendar()
	for _, event := range events {
		if ve := Component(event, stamp); ve != nil {
			cal.Children = append(cal.Children, ve)
		}
	}
	return cal
}

// Component converts an Event to a VEVENT. The event id becomes the UID so
// repeated exports of the same event replace each other on import.
func Component(event *models.Event, stamp time.Time) *ical.Component {
	if event.Start.Time(time.UTC).IsZero() {
		return nil
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.ID)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	setTime(ve, ical.PropDateTimeStart, event.Start)
	if !event.End.Time(time.UTC).IsZero() {
		setTime(ve, ical.PropDateTimeEnd, event.End)
	}

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.HTMLLink != "" {
		ve.Props.SetText(ical.PropURL, event.HTMLLink)
	}
	if status := icalStatus(event.Status); status != "" {
		ve.Props.SetText(ical.PropStatus, status)
	}
	if !event.Created.IsZero() {
		ve.Props.SetDateTime(ical.PropCreated, event.Created.UTC())
	}
	if !event.Updated.IsZero() {
		ve.Props.SetDateTime(ical.PropLastModified, event.Updated.UTC())
	}
	if event.Organizer.Email != "" {
		ve.Props.Add(person(ical.PropOrganizer, event.Organizer.Email, event.Organizer.DisplayName))
	}
	for _, attendee := range event.Attendees {
		if attendee.Email == "" {
			continue
		}
		ve.Props.Add(person(ical.PropAttendee, attendee.Email, attendee.DisplayName))
	}
	return ve
}

// Write encodes events to w.
func Write(w io.Writer, events []*models.Event, stamp time.Time) error {
	if err := ical.NewEncoder(w).Encode(Calendar(events, stamp)); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// WriteFile encodes events to path, replacing the file atomically.
func WriteFile(path string, events []*models.Event, stamp time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".calnote-export-*.ics")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, events, stamp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func setTime(ve *ical.Component, name string, d models.EventDateTime) {
	if d.IsAllDay() {
		t, err := time.Parse(models.DateLayout, d.Date)
		if err == nil {
			ve.Props.SetDate(name, t)
		}
		return
	}
	ve.Props.SetDateTime(name, d.DateTime.UTC())
}

func person(name, email, displayName string) *ical.Prop {
	p := ical.NewProp(name)
	p.SetText("mailto:" + email)
	if displayName != "" {
		p.Params.Set(ical.ParamCommonName, displayName)
	}
	return p
}

func icalStatus(status string) string {
	switch status {
	case "confirmed":
		return "CONFIRMED"
	case "tentative":
		return "TENTATIVE"
	case "cancelled":
		return "CANCELLED"
	}
	return ""
}
