package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"calnote/internal/auth"
	"calnote/internal/config"
	"calnote/internal/export"
	"calnote/internal/mirror"
	"calnote/internal/models"
	"calnote/internal/notes"
	"calnote/internal/syncer"
	"calnote/internal/timeline"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the Google account authorization.",
		Subcommands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize access in the browser and store the token.",
				Action: withEnv(func(c *cli.Context, e *env) error {
					e.logger.Info("Starting Google authentication flow.")
					if err := e.flow.Login(c.Context); err != nil {
						return fmt.Errorf("login failed: %w", err)
					}
					if !e.client.TestConnection(c.Context) {
						e.logger.Warn("Authenticated, but the calendar API is not reachable yet.")
					}
					fmt.Println("Authenticated.")
					return nil
				}),
			},
			{
				Name:  "logout",
				Usage: "Forget the stored token.",
				Action: withLocalEnv(func(c *cli.Context, e *env) error {
					return logout(e)
				}),
			},
			{
				Name:  "revoke",
				Usage: "Revoke the token with Google and forget it.",
				Action: withEnv(func(c *cli.Context, e *env) error {
					return e.flow.Revoke(c.Context)
				}),
			},
			{
				Name:  "status",
				Usage: "Show whether a token is stored and when it expires.",
				Action: withLocalEnv(func(c *cli.Context, e *env) error {
					return printStatus(os.Stdout, e)
				}),
			},
		},
	}
}

// logout clears the stored token. It needs no client credentials.
func logout(e *env) error {
	if err := e.tokens.Clear(); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	e.logger.Info("Logged out.")
	return nil
}

func printStatus(w io.Writer, e *env) error {
	tok, err := e.tokens.Get()
	if err != nil {
		return err
	}
	if tok == nil {
		fmt.Fprintln(w, "State:", auth.StateUnauthenticated)
		return nil
	}
	fmt.Fprintln(w, "State:", auth.StateAuthenticated)
	if tok.ExpiresAt != nil {
		fmt.Fprintln(w, "Expires:", tok.ExpiresAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintln(w, "Expired:", e.tokens.IsExpired(tok))
	if tok.Scope != "" {
		fmt.Fprintln(w, "Scope:", tok.Scope)
	}
	return nil
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the account's calendars; '*' marks the ones synced.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "select", Usage: "Sync only these calendar ids and save the selection."},
			&cli.BoolFlag{Name: "all", Usage: "Sync every calendar and save the selection."},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			if err := e.requireAuth(); err != nil {
				return err
			}
			if c.Bool("all") || c.IsSet("select") {
				if err := saveSelection(e, c.Bool("all"), c.StringSlice("select")); err != nil {
					return err
				}
			}

			calendars, err := e.client.ListCalendars(c.Context)
			if err != nil {
				return err
			}
			selected := make(map[string]bool, len(e.cfg.Sync.SelectedCalendars))
			for _, id := range e.cfg.Sync.SelectedCalendars {
				selected[id] = true
			}
			for _, cal := range calendars {
				mark := " "
				if e.cfg.Sync.SyncAllCalendars || selected[cal.ID] {
					mark = "*"
				}
				primary := ""
				if cal.Primary {
					primary = " (primary)"
				}
				fmt.Printf("%s %-40s %s%s\n", mark, cal.ID, cal.Name, primary)
			}
			return nil
		}),
	}
}

func saveSelection(e *env, all bool, ids []string) error {
	e.cfg.Sync.SyncAllCalendars = all
	if !all {
		e.cfg.Sync.SelectedCalendars = ids
	}
	if err := config.Save(e.cfgPath, e.cfg); err != nil {
		return fmt.Errorf("failed to save selection: %w", err)
	}
	return nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a sync cycle.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "watch", Usage: "Keep syncing on the configured interval until interrupted."},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			s, err := e.syncOnce(c.Context)
			if err != nil {
				return fmt.Errorf("sync cycle failed: %w", err)
			}
			fmt.Printf("Synced %d events from %d calendars.\n", len(s.GetAllEvents()), len(s.Calendars()))
			for _, cal := range s.Calendars() {
				if events := s.GetEventsForCalendar(cal.ID); len(events) > 0 {
					fmt.Printf("  %-30s %d\n", cal.Name, len(events))
				}
			}

			if !c.Bool("watch") {
				return nil
			}
			return watch(c.Context, e, s, func(state models.SyncState) {
				if state.Status == models.SyncSuccess {
					fmt.Printf("Synced %d events; next sync at %s.\n", len(s.GetAllEvents()), state.NextSync.Format("15:04"))
				}
			})
		}),
	}
}

// watch runs auto-sync until SIGINT or SIGTERM.
func watch(ctx context.Context, e *env, s *syncer.Syncer, onStatus func(models.SyncState)) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	unsubscribe := s.OnStatusChanged(onStatus)
	defer unsubscribe()

	settings := s.Settings()
	settings.AutoSync = true
	s.UpdateSettings(settings)
	if err := s.StartAutoSync(ctx); err != nil {
		return err
	}
	defer s.StopAutoSync()

	e.logger.Info("Watching for changes.", "interval", settings.Interval)
	<-ctx.Done()
	e.logger.Info("Stopping.")
	return nil
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List cached events for a day or a range.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Usage: "Day to list (YYYY-MM-DD); defaults to today."},
			&cli.StringFlag{Name: "from", Usage: "Range start (YYYY-MM-DD)."},
			&cli.StringFlag{Name: "to", Usage: "Range end, exclusive (YYYY-MM-DD)."},
			&cli.StringFlag{Name: "calendar", Usage: "Only events of this calendar id."},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			s, err := e.syncOnce(c.Context)
			if err != nil {
				return err
			}
			loc := s.Settings().Location

			var from, to time.Time
			switch {
			case c.IsSet("from") || c.IsSet("to"):
				if from, err = parseDay(c.String("from"), loc); err != nil {
					return err
				}
				if to, err = parseDay(c.String("to"), loc); err != nil {
					return err
				}
			default:
				day := time.Now().In(loc)
				if c.IsSet("day") {
					if day, err = parseDay(c.String("day"), loc); err != nil {
						return err
					}
				}
				from, to = syncer.DayBounds(day, loc)
			}

			var events []*models.Event
			if calendarID := c.String("calendar"); calendarID != "" {
				events = s.GetCalendarEventsInRange(calendarID, from, to)
			} else {
				events = s.GetEventsInRange(from, to)
			}
			for _, event := range events {
				printEvent(event, loc)
			}
			return nil
		}),
	}
}

func parseDay(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(models.DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

func printEvent(event *models.Event, loc *time.Location) {
	when := event.Start.Date + " all day"
	if !event.IsAllDay() {
		start, end := event.Interval(loc)
		when = start.In(loc).Format("2006-01-02 15:04") + " - " + end.In(loc).Format("15:04")
	}
	fmt.Printf("%-30s %s  (%s/%s)\n", when, event.Title, event.CalendarID, event.ID)
}

func timelineCommand() *cli.Command {
	return &cli.Command{
		Name:  "timeline",
		Usage: "Show a day of events as a styled agenda.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Usage: "Day to show (YYYY-MM-DD); defaults to today."},
			&cli.BoolFlag{Name: "watch", Usage: "Redraw on every sync until interrupted."},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			s, err := e.syncOnce(c.Context)
			if err != nil {
				return err
			}
			colors, err := e.client.GetColors(c.Context)
			if err != nil {
				e.logger.Warn("Could not load event colors", "error", err)
			}

			loc := s.Settings().Location
			view := timeline.New(e.logger, s, os.Stdout, timeline.Options{Location: loc, Colors: colors})
			if c.IsSet("day") {
				day, err := parseDay(c.String("day"), loc)
				if err != nil {
					return err
				}
				view.SetDay(day)
			}

			if !c.Bool("watch") {
				return view.Render(os.Stdout)
			}
			view.OnShow()
			defer view.OnHide()
			return watch(c.Context, e, s, func(models.SyncState) {})
		}),
	}
}

func noteCommand() *cli.Command {
	return &cli.Command{
		Name:      "note",
		Usage:     "Create a note for one event.",
		ArgsUsage: "<calendarID> <eventID>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("expected <calendarID> <eventID>")
			}
			if err := e.requireAuth(); err != nil {
				return err
			}
			calendarID, eventID := c.Args().Get(0), c.Args().Get(1)

			event, err := e.client.GetEvent(c.Context, calendarID, eventID)
			if err != nil {
				return fmt.Errorf("failed to fetch event: %w", err)
			}

			calendarName := calendarID
			if calendars, err := e.client.ListCalendars(c.Context); err == nil {
				for _, cal := range calendars {
					if cal.ID == calendarID {
						calendarName = cal.Name
					}
				}
			}

			gen := notes.Generator{
				Template:   e.cfg.Notes.Template,
				DateFormat: e.cfg.Notes.DateFormat,
				Location:   e.location(c.Context),
			}
			path, err := notes.NewWriter(e.logger, e.cfg.Notes.Folder).Write(gen.Generate(event, calendarName))
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		}),
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the synced events to an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "Output .ics path.", Value: "calnote.ics"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			s, err := e.syncOnce(c.Context)
			if err != nil {
				return err
			}
			events := s.GetAllEvents()
			if err := export.WriteFile(c.String("out"), events, time.Now()); err != nil {
				return err
			}
			fmt.Printf("Exported %d events to %s.\n", len(events), c.String("out"))
			return nil
		}),
	}
}

func mirrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Push the synced events to the configured CalDAV calendar.",
		Action: withEnv(func(c *cli.Context, e *env) error {
			dav := e.cfg.CalDAV
			if strings.TrimSpace(dav.Calendar) == "" {
				return fmt.Errorf("no caldav calendar configured")
			}
			s, err := e.syncOnce(c.Context)
			if err != nil {
				return err
			}

			m, err := mirror.New(c.Context, e.logger, mirror.Options{
				Endpoint:     dav.Endpoint,
				Username:     dav.Username,
				Password:     dav.Password,
				CalendarName: dav.Calendar,
			})
			if err != nil {
				return err
			}
			pushed, err := m.Push(c.Context, s.GetAllEvents())
			fmt.Printf("Mirrored %d events.\n", pushed)
			return err
		}),
	}
}
