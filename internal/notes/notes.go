// Package notes turns calendar events into markdown notes.
package notes

import (
	"strings"
	"time"

	"calnote/internal/models"
)

// DefaultTemplate is used when no template is configured.
const DefaultTemplate = `# {{title}}

**Date:** {{date}}
**Time:** {{time}}
**Location:** {{location}}
**Calendar:** {{calendar}}
**Attendees:** {{attendees}}

## Description

{{description}}

## Notes


[Open in Google Calendar]({{link}})
`

// DefaultDateFormat is the Go layout used for {{date}} by default.
const DefaultDateFormat = models.DateLayout

const untitled = "Untitled"

// Note is a generated note ready to be written.
type Note struct {
	Filename string
	Body     string
}

// Generator renders events with a template. The zero value uses the
// default template, date format and the local zone.
type Generator struct {
	Template   string
	DateFormat string
	Location   *time.Location
}

// Generate renders one event. calendarName fills {{calendar}}.
func (g Generator) Generate(event *models.Event, calendarName string) Note {
	loc := g.Location
	if loc == nil {
		loc = time.Local
	}
	tmpl := g.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	layout := g.DateFormat
	if layout == "" {
		layout = DefaultDateFormat
	}

	title := event.Title
	if strings.TrimSpace(title) == "" {
		title = untitled
	}
	start := event.Start.Time(loc)

	r := strings.NewReplacer(
		"{{title}}", title,
		"{{date}}", start.In(loc).Format(layout),
		"{{time}}", formatTime(event, loc),
		"{{description}}", event.Description,
		"{{location}}", event.Location,
		"{{attendees}}", formatAttendees(event.Attendees),
		"{{calendar}}", calendarName,
		"{{link}}", event.HTMLLink,
	)
	return Note{
		Filename: Filename(start.In(loc), title),
		Body:     r.Replace(tmpl),
	}
}

// Filename returns "<date> <title>.md" with characters that are unsafe in
// note file names removed.
func Filename(date time.Time, title string) string {
	name := date.Format(models.DateLayout) + " " + sanitize(title)
	return strings.TrimSpace(name) + ".md"
}

var unsafeChars = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "",
	"<", "", ">", "", "|", "", "#", "", "^", "", "[", "", "]", "",
)

func sanitize(title string) string {
	s := strings.TrimSpace(unsafeChars.Replace(title))
	if s == "" {
		return untitled
	}
	return s
}

func formatTime(event *models.Event, loc *time.Location) string {
	if event.IsAllDay() {
		return "All day"
	}
	start, end := event.Interval(loc)
	return start.In(loc).Format("15:04") + " - " + end.In(loc).Format("15:04")
}

func formatAttendees(attendees []models.Attendee) string {
	names := make([]string, 0, len(attendees))
	for _, a := range attendees {
		if name := a.Name(); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
