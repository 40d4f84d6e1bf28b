package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jamespfennell/gtfs"
	"github.com/urfave/cli/v2"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

func main() {
	app := cli.App{
		Name:    "loadgtfs",
		Usage:   "load a static gtfs zip into the schedule tables",
		Version: "0.0.1",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "gtfs-zip",
			Usage:    "path to the static gtfs zip file",
			Required: true,
			EnvVars:  []string{"GT_GTFS_ZIP"},
		},
		&cli.StringFlag{
			Name:     "provider",
			Usage:    "provider id to load the schedule under",
			Required: true,
			EnvVars:  []string{"GT_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "provider-name",
			Usage:   "human readable provider name",
			EnvVars: []string{"GT_PROVIDER_NAME"},
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Usage:   "path to the sqlite database",
			Value:   "/data/gtfsrt.db",
			EnvVars: []string{"GT_SQLITE_PATH"},
		},
	}

	app.Action = LoadGTFS

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func LoadGTFS(cctx *cli.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	providerID := cctx.String("provider")
	providerName := cctx.String("provider-name")
	if providerName == "" {
		providerName = providerID
	}

	b, err := os.ReadFile(cctx.String("gtfs-zip"))
	if err != nil {
		logger.Error("failed to read gtfs zip", "error", err)
		return err
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		logger.Error("failed to parse gtfs zip", "error", err)
		return err
	}
	logger.Info("parsed static gtfs",
		"routes", len(staticData.Routes),
		"stops", len(staticData.Stops),
		"trips", len(staticData.Trips),
		"services", len(staticData.Services),
		"warnings", len(staticData.Warnings))

	st, err := store.Open(cctx.String("sqlite-path"), true)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}

	if err := st.EnsureProvider(providerID, providerName); err != nil {
		logger.Error("failed to ensure provider", "error", err)
		return err
	}

	routes, stops, trips, stopTimes, calendars := convertStatic(providerID, staticData)

	start := time.Now()
	err = st.ReplaceStatic(providerID, routes, stops, trips, stopTimes, calendars)
	if err != nil {
		logger.Error("failed to load schedule", "error", err)
		return err
	}

	logger.Info("loaded schedule",
		"provider", providerID,
		"routes", len(routes),
		"stops", len(stops),
		"trips", len(trips),
		"stop_times", len(stopTimes),
		"calendars", len(calendars),
		"took", time.Since(start).String())
	return nil
}

func convertStatic(providerID string, data *gtfs.Static) (
	[]store.Route,
	[]store.Stop,
	[]store.Trip,
	[]store.ScheduledStopTime,
	[]store.Calendar,
) {
	routes := make([]store.Route, 0, len(data.Routes))
	for _, r := range data.Routes {
		routes = append(routes, store.Route{
			ProviderID:     providerID,
			RouteID:        r.Id,
			RouteShortName: nullableString(r.ShortName),
			RouteLongName:  nullableString(r.LongName),
			RouteType:      int32(r.Type),
			RouteColor:     nullableString(r.Color),
			RouteTextColor: nullableString(r.TextColor),
			RouteURL:       nullableString(r.Url),
		})
	}

	stops := make([]store.Stop, 0, len(data.Stops))
	for _, s := range data.Stops {
		stop := store.Stop{
			ProviderID:   providerID,
			StopID:       s.Id,
			StopCode:     nullableString(s.Code),
			StopName:     s.Name,
			ZoneID:       nullableString(s.ZoneId),
			PlatformCode: nullableString(s.PlatformCode),
		}
		if s.Latitude != nil {
			lat := fmt.Sprintf("%g", *s.Latitude)
			stop.StopLat = &lat
		}
		if s.Longitude != nil {
			lon := fmt.Sprintf("%g", *s.Longitude)
			stop.StopLon = &lon
		}
		if s.Parent != nil {
			parent := s.Parent.Id
			stop.ParentStation = &parent
		}
		stops = append(stops, stop)
	}

	trips := make([]store.Trip, 0, len(data.Trips))
	var stopTimes []store.ScheduledStopTime
	for _, t := range data.Trips {
		trip := store.Trip{
			ProviderID:   providerID,
			TripID:       t.ID,
			TripHeadsign: nullableString(t.Headsign),
			BlockID:      nullableString(t.BlockID),
		}
		if t.Route != nil {
			trip.RouteID = t.Route.Id
		}
		if t.Service != nil {
			trip.ServiceID = t.Service.Id
		}
		dir := uint32(t.DirectionId)
		trip.DirectionID = &dir
		if t.Shape != nil {
			trip.ShapeID = &t.Shape.ID
		}
		trips = append(trips, trip)

		for _, st := range t.StopTimes {
			row := store.ScheduledStopTime{
				ProviderID:    providerID,
				TripID:        t.ID,
				StopSequence:  uint32(st.StopSequence),
				ArrivalTime:   timeOfDay(st.ArrivalTime),
				DepartureTime: timeOfDay(st.DepartureTime),
				StopHeadsign:  nullableString(st.Headsign),
			}
			if st.Stop != nil {
				row.StopID = st.Stop.Id
			}
			stopTimes = append(stopTimes, row)
		}
	}

	calendars := make([]store.Calendar, 0, len(data.Services))
	for _, s := range data.Services {
		calendars = append(calendars, store.Calendar{
			ProviderID: providerID,
			ServiceID:  s.Id,
			Monday:     s.Monday,
			Tuesday:    s.Tuesday,
			Wednesday:  s.Wednesday,
			Thursday:   s.Thursday,
			Friday:     s.Friday,
			Saturday:   s.Saturday,
			Sunday:     s.Sunday,
			StartDate:  s.StartDate.Format("20060102"),
			EndDate:    s.EndDate.Format("20060102"),
		})
	}

	return routes, stops, trips, stopTimes, calendars
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// timeOfDay renders a duration past midnight as HH:MM:SS. Trips running past
// midnight keep hour values of 24 and up, matching the source feed format.
func timeOfDay(d time.Duration) *string {
	if d < 0 {
		return nil
	}
	total := int(d / time.Second)
	s := fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
	return &s
}
