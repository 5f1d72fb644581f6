package google

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"calnote/internal/models"
)

// toCalendar converts a calendar list entry. Hidden and deleted calendars
// are marked deselected.
func toCalendar(item *calendar.CalendarListEntry) *models.Calendar {
	name := item.Summary
	if item.SummaryOverride != "" {
		name = item.SummaryOverride
	}
	return &models.Calendar{
		ID:              item.Id,
		Name:            name,
		ForegroundColor: item.ForegroundColor,
		BackgroundColor: item.BackgroundColor,
		Selected:        !item.Hidden && !item.Deleted,
		TimeZone:        item.TimeZone,
		AccessRole:      item.AccessRole,
		Primary:         item.Primary,
	}
}

// toInternalEvents converts Google Calendar events to the internal Event model.
// Events without a usable start or end are dropped.
func (c *CalendarClient) toInternalEvents(items []*calendar.Event, calendarID string) []*models.Event {
	events := make([]*models.Event, 0, len(items))
	for _, item := range items {
		event, ok := toEvent(item, calendarID)
		if !ok {
			c.logger.Debug("Skipping event without usable times", "calendarID", calendarID, "eventID", item.Id)
			continue
		}
		events = append(events, event)
	}
	return events
}

func toEvent(item *calendar.Event, calendarID string) (*models.Event, bool) {
	if item == nil {
		return nil, false
	}
	start, ok := toDateTime(item.Start)
	if !ok {
		return nil, false
	}
	end, ok := toDateTime(item.End)
	if !ok {
		return nil, false
	}

	event := &models.Event{
		ID:          item.Id,
		CalendarID:  calendarID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		ColorID:     item.ColorId,
		HTMLLink:    item.HtmlLink,
		Status:      item.Status,
		Created:     parseTimestamp(item.Created),
		Updated:     parseTimestamp(item.Updated),
	}
	for _, a := range item.Attendees {
		if a == nil {
			continue
		}
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			ResponseStatus: a.ResponseStatus,
		})
	}
	if item.Creator != nil {
		event.Creator = models.Person{Email: item.Creator.Email, DisplayName: item.Creator.DisplayName}
	}
	if item.Organizer != nil {
		event.Organizer = models.Person{Email: item.Organizer.Email, DisplayName: item.Organizer.DisplayName}
	}
	return event, true
}

func toDateTime(dt *calendar.EventDateTime) (models.EventDateTime, bool) {
	if dt == nil {
		return models.EventDateTime{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return models.EventDateTime{}, false
		}
		return models.EventDateTime{DateTime: t, TimeZone: dt.TimeZone}, true
	}
	if dt.Date != "" {
		if _, err := time.Parse(models.DateLayout, dt.Date); err != nil {
			return models.EventDateTime{}, false
		}
		return models.EventDateTime{Date: dt.Date}, true
	}
	return models.EventDateTime{}, false
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
