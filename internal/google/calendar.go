package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calnote/internal/apierr"
	"calnote/internal/models"
)

const (
	// maxEventResults caps the number of events returned per calendar.
	maxEventResults = 2500

	defaultFailureThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// TokenProvider supplies a usable access token, refreshing it if needed.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Options tune a CalendarClient. Zero values select production defaults.
type Options struct {
	HTTPClient *http.Client
	// Endpoint overrides the API base URL.
	Endpoint string
	// MaxConcurrency bounds the calendar fan-out; 0 means unbounded.
	MaxConcurrency int
	// FailureThreshold is the number of consecutive network failures that
	// open the circuit breaker.
	FailureThreshold uint32
	BreakerCooldown  time.Duration
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	logger         *slog.Logger
	tokens         TokenProvider
	httpClient     *http.Client
	endpoint       string
	maxConcurrency int
	breaker        *gobreaker.CircuitBreaker
}

// NewClient creates a new Google Calendar client.
func NewClient(logger *slog.Logger, tokens TokenProvider, opts Options) *CalendarClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	threshold := opts.FailureThreshold

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "google-calendar",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only transport failures and 5xx responses count against the API.
		IsSuccessful: func(err error) bool {
			return err == nil || !apierr.IsNetwork(apierr.Classify(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Calendar API circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})

	return &CalendarClient{
		logger:         logger,
		tokens:         tokens,
		httpClient:     opts.HTTPClient,
		endpoint:       opts.Endpoint,
		maxConcurrency: opts.MaxConcurrency,
		breaker:        breaker,
	}
}

// service builds a Calendar service authorized with a fresh access token.
func (c *CalendarClient) service(ctx context.Context) (*calendar.Service, error) {
	accessToken, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   c.httpClient.Transport,
		},
		Timeout: c.httpClient.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// call runs fn against an authorized service through the circuit breaker
// and classifies any failure.
func (c *CalendarClient) call(ctx context.Context, op string, fn func(*calendar.Service) error) error {
	svc, err := c.service(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(svc)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, apierr.Classify(err))
	}
	return nil
}

// ListCalendars returns every calendar the account can see.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]*models.Calendar, error) {
	var calendars []*models.Calendar
	err := c.call(ctx, "failed to list calendars", func(svc *calendar.Service) error {
		calendars = calendars[:0]
		return svc.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
			for _, item := range page.Items {
				calendars = append(calendars, toCalendar(item))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Fetched calendar list", "count", len(calendars))
	return calendars, nil
}

// ListEvents returns the events of one calendar intersecting [start, end),
// with recurring events expanded into instances and ordered by start time.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "start", start, "end", end)

	var items []*calendar.Event
	err := c.call(ctx, "failed to retrieve events", func(svc *calendar.Service) error {
		events, err := svc.Events.List(calendarID).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(maxEventResults).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = events.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := c.toInternalEvents(items, calendarID)
	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events), "calendarID", calendarID)
	return events, nil
}

// GetEvent returns a single event.
func (c *CalendarClient) GetEvent(ctx context.Context, calendarID, eventID string) (*models.Event, error) {
	var item *calendar.Event
	err := c.call(ctx, "failed to get event", func(svc *calendar.Service) error {
		var err error
		item, err = svc.Events.Get(calendarID, eventID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	event, ok := toEvent(item, calendarID)
	if !ok {
		return nil, apierr.Validation("event", fmt.Sprintf("event %s has no usable start or end", eventID))
	}
	return event, nil
}

// ListEventsForMultipleCalendars fetches the window for every calendar in
// parallel. A calendar that fails is logged and mapped to an empty list; the
// others are still returned. Only a missing credential or a cancelled
// context fails the whole batch.
func (c *CalendarClient) ListEventsForMultipleCalendars(ctx context.Context, calendarIDs []string, start, end time.Time) (map[string][]*models.Event, error) {
	// Resolve the token once so an unusable credential fails loudly and the
	// parallel calls below share the refreshed token.
	if _, err := c.tokens.GetAccessToken(ctx); err != nil {
		return nil, err
	}

	results := make(map[string][]*models.Event, len(calendarIDs))
	var mu sync.Mutex

	var g errgroup.Group
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for _, id := range calendarIDs {
		id := id // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		g.Go(func() error {
			events, err := c.ListEvents(ctx, id, start, end)
			if err != nil {
				c.logger.Error("Could not fetch events for a google calendar", "calendarID", id, "error", err)
				events = []*models.Event{}
			}
			mu.Lock()
			results[id] = events
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// TestConnection reports whether the calendar list can be fetched.
func (c *CalendarClient) TestConnection(ctx context.Context) bool {
	if _, err := c.ListCalendars(ctx); err != nil {
		c.logger.Warn("Google Calendar connection test failed", "error", err)
		return false
	}
	return true
}

// GetUserTimeZone returns the account's configured time zone. Any failure
// falls back to the local time zone.
func (c *CalendarClient) GetUserTimeZone(ctx context.Context) *time.Location {
	var value string
	err := c.call(ctx, "failed to get timezone setting", func(svc *calendar.Service) error {
		setting, err := svc.Settings.Get("timezone").Context(ctx).Do()
		if err != nil {
			return err
		}
		value = setting.Value
		return nil
	})
	if err != nil {
		c.logger.Warn("Using local time zone", "error", err)
		return time.Local
	}

	loc, err := time.LoadLocation(value)
	if err != nil {
		c.logger.Warn("Unknown account time zone, using local time zone", "timezone", value, "error", err)
		return time.Local
	}
	return loc
}

// GetColors returns the event color palette keyed by color id.
func (c *CalendarClient) GetColors(ctx context.Context) (map[string]models.Color, error) {
	colors := make(map[string]models.Color)
	err := c.call(ctx, "failed to get colors", func(svc *calendar.Service) error {
		palette, err := svc.Colors.Get().Context(ctx).Do()
		if err != nil {
			return err
		}
		for id, def := range palette.Event {
			colors[id] = models.Color{Background: def.Background, Foreground: def.Foreground}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return colors, nil
}
