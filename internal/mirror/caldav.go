// Package mirror pushes cached events to a CalDAV calendar, one way.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-webdav/caldav"

	"calnote/internal/export"
	"calnote/internal/models"
)

// DefaultEndpoint is the iCloud CalDAV endpoint.
const DefaultEndpoint = "https://caldav.icloud.com/"

// basicAuthTransport adds Basic Auth and the user agent to each request.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calnote/1.0")
	return t.Transport.RoundTrip(req)
}

// Options configures a Mirror.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	// HTTPClient overrides the transport used underneath Basic Auth.
	HTTPClient *http.Client
}

// Mirror writes events into one calendar of a CalDAV server.
type Mirror struct {
	client       *caldav.Client
	logger       *slog.Logger
	calendarPath string
	now          func() time.Time
}

// New connects to the server and resolves the calendar by display name.
func New(ctx context.Context, logger *slog.Logger, opts Options) (*Mirror, error) {
	if opts.Username == "" || opts.Password == "" {
		return nil, errors.New("caldav username and password are required")
	}
	if opts.CalendarName == "" {
		return nil, errors.New("caldav calendar name is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	base := http.DefaultTransport
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		base = opts.HTTPClient.Transport
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  opts.Username,
		Password:  opts.Password,
		Transport: base,
	}}

	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	m := newMirror(client, logger, "")

	logger.Info("Finding CalDAV calendar", "calendarName", opts.CalendarName)
	calendarPath, err := m.findCalendar(ctx, opts.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", opts.CalendarName, err)
	}
	m.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return m, nil
}

func newMirror(client *caldav.Client, logger *slog.Logger, calendarPath string) *Mirror {
	return &Mirror{client: client, logger: logger, calendarPath: calendarPath, now: time.Now}
}

// Push creates or overwrites one calendar object per event, keyed by event
// id. It keeps going after a failed event and returns the joined errors.
func (m *Mirror) Push(ctx context.Context, events []*models.Event) (int, error) {
	var (
		pushed int
		errs   []error
	)
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return pushed, err
		}
		if event.Start.Time(time.UTC).IsZero() {
			continue
		}
		if err := m.PushEvent(ctx, event); err != nil {
			errs = append(errs, err)
			continue
		}
		pushed++
	}
	return pushed, errors.Join(errs...)
}

// PushEvent creates or updates a single event.
func (m *Mirror) PushEvent(ctx context.Context, event *models.Event) error {
	ve := export.Component(event, m.now())
	if ve == nil {
		m.logger.Debug("Skipping event without start time", "eventID", event.ID)
		return nil
	}
	cal := export.NewCalendar()
	cal.Children = append(cal.Children, ve)

	objectPath := ObjectPath(m.calendarPath, event.ID)
	m.logger.Debug("Mirroring event", "eventTitle", event.Title, "path", objectPath)
	if _, err := m.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return fmt.Errorf("failed to put event %s: %w", event.ID, err)
	}
	return nil
}

// ObjectPath returns the path of an event's calendar object.
func ObjectPath(calendarPath, eventID string) string {
	return path.Join(calendarPath, url.PathEscape(eventID)+".ics")
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching name.
func (m *Mirror) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := m.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := m.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := m.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
