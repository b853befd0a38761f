// Command livemap is a terminal dispatcher view: it follows the change feed and the
// fallback poll for one admin's fleet and redraws a table of driver markers.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleettrack-backend/internal/livemap"
	"fleettrack-backend/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

const (
	flagURL     = "url"
	flagToken   = "token"
	flagRefresh = "refresh"
	flagPoll    = "poll"
	flagDriver  = "driver"
	flagNoFeed  = "no-feed"
)

func main() {
	app := &cli.App{
		Name:  "livemap",
		Usage: "follow a fleet's live driver positions from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagURL,
				Value:   "http://localhost:8080",
				Usage:   "base URL of the fleettrack API",
				EnvVars: []string{"FLEETTRACK_URL"},
			},
			&cli.StringFlag{
				Name:     flagToken,
				Usage:    "dispatcher (admin) JWT",
				EnvVars:  []string{"FLEETTRACK_TOKEN"},
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "redraw the live map table until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagRefresh, Value: time.Second, Usage: "table redraw interval"},
					&cli.DurationFlag{Name: flagPoll, Value: 30 * time.Second, Usage: "fallback poll interval"},
					&cli.StringFlag{Name: flagDriver, Usage: "select a driver to print its recent trail"},
					&cli.BoolFlag{Name: flagNoFeed, Usage: "poll only, do not subscribe to the change feed"},
				},
				Action: watchAction,
			},
			{
				Name:   "snapshot",
				Usage:  "print the current roster once",
				Action: snapshotAction,
			},
			{
				Name:      "history",
				Usage:     "print a driver's accurate trail",
				ArgsUsage: "<driver-id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "window", Value: 2 * time.Hour, Usage: "how far back to look"},
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "most recent points to print"},
				},
				Action: historyAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func watchAction(c *cli.Context) error {
	source := livemap.NewHTTPSource(c.String(flagURL), c.String(flagToken))

	var feed livemap.Feed
	if !c.Bool(flagNoFeed) {
		wsFeed, err := livemap.NewWSFeed(c.String(flagURL), c.String(flagToken))
		if err != nil {
			return err
		}
		feed = wsFeed
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := livemap.NewSession(source, feed, nil, livemap.Options{
		FrameInterval: c.Duration(flagRefresh),
		PollInterval:  c.Duration(flagPoll),
		OnFrame: func(states []livemap.MarkerState) {
			fmt.Print("\033[H\033[2J")
			fmt.Println(renderMarkers(states, time.Now()))
		},
		OnHistory: func(driverID string, points []models.LocationHistoryPoint) {
			fmt.Println(renderHistory(driverID, points))
		},
		OnError: func(err error) {
			log.Printf("⚠️  %v", err)
		},
	})
	defer session.Close()

	if id := c.String(flagDriver); id != "" {
		// Selection is ignored until the first poll puts the driver on screen
		go func() {
			select {
			case <-time.After(2 * time.Second):
				session.Select(id)
			case <-ctx.Done():
			}
		}()
	}

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func snapshotAction(c *cli.Context) error {
	source := livemap.NewHTTPSource(c.String(flagURL), c.String(flagToken))
	drivers, err := source.LiveDrivers(c.Context)
	if err != nil {
		return err
	}

	view := livemap.NewView(nil, livemap.DefaultThresholds())
	view.ApplySnapshot(drivers)
	fmt.Println(renderMarkers(view.Frame(), time.Now()))
	return nil
}

func historyAction(c *cli.Context) error {
	driverID := c.Args().First()
	if driverID == "" {
		return cli.Exit("driver id is required", 1)
	}
	source := livemap.NewHTTPSource(c.String(flagURL), c.String(flagToken))

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	points, err := source.History(ctx, driverID, time.Now().Add(-c.Duration("window")), c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Println(renderHistory(driverID, points))
	return nil
}

func renderMarkers(states []livemap.MarkerState, now time.Time) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("LIVE MAP  %s", now.Format("15:04:05")))
	t.AppendHeader(table.Row{"#", "Driver", "Code", "Liveness", "Position", "Battery", "Last seen"})
	for i, m := range states {
		liveness := string(m.Liveness)
		if m.Stale {
			liveness += " (stale)"
		}
		position := "no location"
		if m.HasLocation {
			position = fmt.Sprintf("%.5f, %.5f", m.Position.Lat, m.Position.Lng)
			if m.Animating {
				position += " →"
			}
		}
		battery := "-"
		if m.Battery != nil {
			battery = fmt.Sprintf("%.0f%%", *m.Battery)
		}
		lastSeen := "never"
		if !m.LastSeen.IsZero() && m.LastSeen.Unix() > 0 {
			lastSeen = now.Sub(m.LastSeen).Truncate(time.Second).String() + " ago"
		}
		t.AppendRow(table.Row{i + 1, m.DisplayName, m.FleetCode, liveness, position, battery, lastSeen})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d drivers", len(states))})
	return t.Render()
}

func renderHistory(driverID string, points []models.LocationHistoryPoint) string {
	t := table.NewWriter()
	t.SetTitle("TRAIL " + driverID)
	t.AppendHeader(table.Row{"#", "Time", "Latitude", "Longitude", "Accuracy (m)"})
	for i, p := range points {
		accuracy := "-"
		if p.Accuracy != nil {
			accuracy = fmt.Sprintf("%.1f", *p.Accuracy)
		}
		t.AppendRow(table.Row{
			i + 1,
			time.UnixMilli(p.Timestamp).Format(time.RFC3339),
			fmt.Sprintf("%.6f", p.Latitude),
			fmt.Sprintf("%.6f", p.Longitude),
			accuracy,
		})
	}
	return t.Render()
}
