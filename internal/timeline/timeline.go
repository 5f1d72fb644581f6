// Package timeline renders the cached events of one day as a styled agenda.
package timeline

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"calnote/internal/models"
)

// Source is the read side of the sync orchestrator the view depends on.
type Source interface {
	GetEventsForDay(date time.Time) []*models.Event
	Calendar(id string) (*models.Calendar, bool)
	Status() models.SyncState
	OnEventsUpdated(fn func([]*models.Event)) func()
	OnStatusChanged(fn func(models.SyncState)) func()
}

// Options configures a View.
type Options struct {
	Location *time.Location
	// Colors is the provider's event palette keyed by color id.
	Colors map[string]models.Color
}

// View shows one day of events. While shown it redraws to its output on
// every cache or status update.
type View struct {
	logger *slog.Logger
	source Source
	out    io.Writer
	loc    *time.Location
	colors map[string]models.Color

	mu      sync.Mutex
	day     time.Time
	unsubs  []func()
	visible bool
}

// New creates a View of today's events.
func New(logger *slog.Logger, source Source, out io.Writer, opts Options) *View {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &View{
		logger: logger,
		source: source,
		out:    out,
		loc:    loc,
		colors: opts.Colors,
		day:    time.Now().In(loc),
	}
}

// SetDay changes the day shown.
func (v *View) SetDay(day time.Time) {
	v.mu.Lock()
	v.day = day.In(v.loc)
	v.mu.Unlock()
}

// OnShow draws the view and subscribes to updates. Calling it twice is a no-op.
func (v *View) OnShow() {
	v.mu.Lock()
	if v.visible {
		v.mu.Unlock()
		return
	}
	v.visible = true
	v.unsubs = []func(){
		v.source.OnEventsUpdated(func([]*models.Event) { v.redraw() }),
		v.source.OnStatusChanged(func(models.SyncState) { v.redraw() }),
	}
	v.mu.Unlock()

	v.redraw()
}

// OnHide unsubscribes from updates.
func (v *View) OnHide() {
	v.mu.Lock()
	unsubs := v.unsubs
	v.unsubs = nil
	v.visible = false
	v.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

func (v *View) redraw() {
	if err := v.Render(v.out); err != nil {
		v.logger.Warn("Failed to render timeline", "error", err)
	}
}

// Render writes the agenda of the current day to w.
func (v *View) Render(w io.Writer) error {
	v.mu.Lock()
	day := v.day
	v.mu.Unlock()

	r := lipgloss.NewRenderer(w)
	titleStyle := r.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	statusStyle := r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	errorStyle := r.NewStyle().Foreground(lipgloss.Color("9"))
	timeStyle := r.NewStyle().Width(14)
	calendarStyle := r.NewStyle().Foreground(lipgloss.Color("244"))

	var b strings.Builder
	b.WriteString(titleStyle.Render(day.Format("Monday, January 2 2006")))
	b.WriteString("\n")

	state := v.source.Status()
	switch state.Status {
	case models.SyncSyncing:
		b.WriteString(statusStyle.Render("Syncing..."))
	case models.SyncError:
		b.WriteString(errorStyle.Render("Sync failed: " + state.ErrorMessage))
	case models.SyncSuccess:
		b.WriteString(statusStyle.Render("Last synced " + state.LastSync.In(v.loc).Format("15:04")))
	default:
		b.WriteString(statusStyle.Render("Not synced yet"))
	}
	b.WriteString("\n\n")

	events := v.source.GetEventsForDay(day)
	if len(events) == 0 {
		b.WriteString(statusStyle.Render("No events"))
		b.WriteString("\n")
	}
	for _, event := range events {
		b.WriteString(timeStyle.Render(v.timeLabel(event, day)))
		b.WriteString(v.titleStyle(r, event).Render(event.Title))
		if cal, ok := v.source.Calendar(event.CalendarID); ok && cal.Name != "" {
			b.WriteString(" ")
			b.WriteString(calendarStyle.Render("[" + cal.Name + "]"))
		}
		b.WriteString("\n")
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	return nil
}

// timeLabel clips multi-day events to the day shown.
func (v *View) timeLabel(event *models.Event, day time.Time) string {
	if event.IsAllDay() {
		return "All day"
	}
	start, end := event.Interval(v.loc)
	y, m, d := day.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, v.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	from, to := start.In(v.loc).Format("15:04"), end.In(v.loc).Format("15:04")
	if start.Before(dayStart) {
		from = "..."
	}
	if end.After(dayEnd) {
		to = "..."
	}
	return from + "-" + to
}

// titleStyle colors an event by its own color, else by its calendar's.
func (v *View) titleStyle(r *lipgloss.Renderer, event *models.Event) lipgloss.Style {
	style := r.NewStyle()
	if c, ok := v.colors[event.ColorID]; ok && c.Background != "" {
		return style.Foreground(lipgloss.Color(c.Background))
	}
	if cal, ok := v.source.Calendar(event.CalendarID); ok && cal.BackgroundColor != "" {
		return style.Foreground(lipgloss.Color(cal.BackgroundColor))
	}
	return style
}
