package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
	"github.com/opentransit/gtfsrt.tools/pkg/view"
)

const maxPageSize = 100

// API serves the read-only JSON surface over snapshots.
type API struct {
	logger     *slog.Logger
	store      *store.Store
	resolver   *view.Resolver
	projector  *view.Projector
	compositor *view.Compositor
}

func NewAPI(logger *slog.Logger, st *store.Store) *API {
	return &API{
		logger:     logger.With("module", "api"),
		store:      st,
		resolver:   view.NewResolver(st),
		projector:  view.NewProjector(st),
		compositor: view.NewCompositor(st),
	}
}

// RegisterRoutes attaches every read endpoint to the echo instance.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/:provider/trip-updates", a.HandleGetTripUpdates)
	e.GET("/:provider/vehicle-positions", a.HandleGetVehiclePositions)
	e.GET("/:provider/alerts", a.HandleGetAlerts)
	e.GET("/:provider/departures/:station", a.HandleGetDepartures)
	e.GET("/:provider/departures/:station/:platform", a.HandleGetDepartures)
	e.GET("/:provider/snapshots", a.HandleListSnapshots)
}

// resolveSnapshot picks the snapshot for a read request. An explicit
// snapshot_id wins and may return an unfinished row; an `at` instant resolves
// to the closest finished snapshot; otherwise the latest finished one.
func (a *API) resolveSnapshot(c echo.Context, providerID string) (store.Snapshot, error) {
	if idParam := c.QueryParam("snapshot_id"); idParam != "" {
		id, err := strconv.ParseUint(idParam, 10, 64)
		if err != nil {
			return store.Snapshot{}, echo.NewHTTPError(http.StatusBadRequest, "invalid snapshot_id")
		}
		return a.resolver.ByID(uint(id), providerID)
	}

	if atParam := c.QueryParam("at"); atParam != "" {
		at, err := dateparse.ParseAny(atParam)
		if err != nil {
			return store.Snapshot{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date format for 'at' parameter")
		}
		return a.resolver.Closest(providerID, at, view.DefaultWindow)
	}

	return a.resolver.LatestFinished(providerID)
}

// writeError maps the view error taxonomy onto HTTP statuses.
func (a *API) writeError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return c.JSON(httpErr.Code, map[string]any{"error": fmt.Sprint(httpErr.Message)})
	case errors.Is(err, view.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no matching snapshot found"})
	case errors.Is(err, view.ErrStationNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{"error": "station not found"})
	case errors.Is(err, view.ErrProviderMismatch):
		return c.JSON(http.StatusConflict, map[string]any{"error": "snapshot belongs to a different provider"})
	default:
		a.logger.Error("request failed", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func (a *API) HandleGetTripUpdates(c echo.Context) error {
	providerID := c.Param("provider")

	snap, err := a.resolveSnapshot(c, providerID)
	if err != nil {
		return a.writeError(c, err)
	}

	updates, err := a.projector.TripUpdates(snap)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"snapshot":     view.NewSnapshotRef(snap),
		"provider":     providerID,
		"trip_updates": updates,
	})
}

func (a *API) HandleGetVehiclePositions(c echo.Context) error {
	providerID := c.Param("provider")

	snap, err := a.resolveSnapshot(c, providerID)
	if err != nil {
		return a.writeError(c, err)
	}

	positions, err := a.projector.VehiclePositions(snap)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"snapshot":          view.NewSnapshotRef(snap),
		"provider":          providerID,
		"vehicle_positions": positions,
	})
}

func (a *API) HandleGetAlerts(c echo.Context) error {
	providerID := c.Param("provider")

	snap, err := a.resolveSnapshot(c, providerID)
	if err != nil {
		return a.writeError(c, err)
	}

	alerts, err := a.projector.Alerts(snap)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"snapshot": view.NewSnapshotRef(snap),
		"provider": providerID,
		"alerts":   alerts,
	})
}

func (a *API) HandleGetDepartures(c echo.Context) error {
	providerID := c.Param("provider")
	station := c.Param("station")

	var platform *string
	if p := c.Param("platform"); p != "" {
		platform = &p
	}

	snap, err := a.resolveSnapshot(c, providerID)
	if err != nil {
		return a.writeError(c, err)
	}

	board, err := a.compositor.Departures(providerID, station, platform, snap)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, board)
}

func (a *API) HandleListSnapshots(c echo.Context) error {
	providerID := c.Param("provider")

	page := 1
	if p := c.QueryParam("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return a.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid page"))
		}
		page = n
	}
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return a.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid limit"))
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var filter store.SnapshotFilter
	if f := c.QueryParam("finished"); f != "" {
		finished := f == "true" || f == "1"
		filter.Finished = &finished
	}
	if f := c.QueryParam("from"); f != "" {
		t, err := dateparse.ParseAny(f)
		if err != nil {
			return a.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid 'from' date format"))
		}
		filter.From = &t
	}
	if f := c.QueryParam("to"); f != "" {
		t, err := dateparse.ParseAny(f)
		if err != nil {
			return a.writeError(c, echo.NewHTTPError(http.StatusBadRequest, "invalid 'to' date format"))
		}
		filter.To = &t
	}

	snaps, total, err := a.store.ListSnapshots(providerID, filter, limit, (page-1)*limit)
	if err != nil {
		return a.writeError(c, err)
	}

	results := make([]snapshotListing, 0, len(snaps))
	for _, s := range snaps {
		results = append(results, newSnapshotListing(s))
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return c.JSON(http.StatusOK, map[string]any{
		"provider":  providerID,
		"snapshots": results,
		"pagination": map[string]any{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": totalPages,
			"has_next":    page < totalPages,
			"has_prev":    page > 1,
		},
	})
}

type snapshotListing struct {
	ID             uint      `json:"id"`
	ProviderID     string    `json:"provider_id"`
	FeedTimestamp  time.Time `json:"feed_timestamp"`
	Version        string    `json:"gtfs_realtime_version"`
	Incrementality string    `json:"incrementality"`
	FeedType       string    `json:"feed_type"`
	FeedVersion    *string   `json:"feed_version"`
	EntityCount    int       `json:"entity_count"`
	Finished       bool      `json:"finished"`
}

func newSnapshotListing(s store.Snapshot) snapshotListing {
	incrementality := "FULL_DATASET"
	if s.Incrementality == store.IncrementalityDifferential {
		incrementality = "DIFFERENTIAL"
	}
	return snapshotListing{
		ID:             s.ID,
		ProviderID:     s.ProviderID,
		FeedTimestamp:  s.FeedTimestamp,
		Version:        s.GTFSRealtimeVersion,
		Incrementality: incrementality,
		FeedType:       s.FeedType,
		FeedVersion:    s.FeedVersion,
		EntityCount:    s.EntityCount,
		Finished:       s.Finished,
	}
}
