package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

var tracer = otel.Tracer("ingest")

var (
	// ErrMalformedHeader is returned when the feed header or its timestamp
	// is missing.
	ErrMalformedHeader = errors.New("malformed feed header")

	// ErrDuplicateSnapshot is returned when a snapshot for the same
	// (provider, feed timestamp) already exists. Callers treat it as a
	// no-op success: the feed was already ingested.
	ErrDuplicateSnapshot = errors.New("snapshot already ingested")
)

// IngestError wraps any other write failure. The failed attempt leaves no
// partial state; the transaction is rolled back before it is returned.
type IngestError struct {
	Cause error
}

func (e *IngestError) Error() string { return fmt.Sprintf("ingest failed: %v", e.Cause) }
func (e *IngestError) Unwrap() error { return e.Cause }

const batchSize = 100

// Normalizer materializes decoded feed messages as snapshots.
type Normalizer struct {
	logger *slog.Logger
	store  *store.Store

	// entityHook, when set, runs before each entity is staged. Tests use it
	// to inject failures at arbitrary entity indexes.
	entityHook func(idx int) error
}

func NewNormalizer(logger *slog.Logger, st *store.Store) *Normalizer {
	return &Normalizer{
		logger: logger.With("module", "ingest"),
		store:  st,
	}
}

// Normalize writes one decoded feed message as a finished snapshot and
// returns its id. The snapshot and all of its children become visible
// atomically; on any failure the transaction is rolled back and no trace of
// the attempt survives.
func (n *Normalizer) Normalize(ctx context.Context, providerID, feedType string, fm *gtfsrt.FeedMessage) (uint, error) {
	ctx, span := tracer.Start(ctx, "Normalize")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider", providerID),
		attribute.String("feed_type", feedType),
	)

	start := time.Now()
	defer func() {
		ingestDuration.WithLabelValues(providerID, feedType).Observe(time.Since(start).Seconds())
	}()

	header := fm.GetHeader()
	if header == nil || header.Timestamp == nil || header.GetTimestamp() == 0 {
		return 0, ErrMalformedHeader
	}

	// Classify every entity up front so a malformed entity fails the poll
	// before anything is written.
	payloads := make([]payload, 0, len(fm.GetEntity()))
	for _, e := range fm.GetEntity() {
		p, err := classify(e)
		if err != nil {
			return 0, &IngestError{Cause: err}
		}
		payloads = append(payloads, p)
	}

	snap := store.Snapshot{
		ProviderID:          providerID,
		FeedTimestamp:       time.Unix(int64(header.GetTimestamp()), 0).UTC(),
		GTFSRealtimeVersion: header.GetGtfsRealtimeVersion(),
		Incrementality:      int32(header.GetIncrementality()),
		FeedType:            feedType,
		EntityCount:         len(payloads),
	}

	err := n.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&snap).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSnapshot
			}
			return &IngestError{Cause: fmt.Errorf("failed to create snapshot: %w", err)}
		}

		if err := n.writeEntities(tx, providerID, snap.ID, payloads); err != nil {
			var ie *IngestError
			if errors.As(err, &ie) {
				return err
			}
			return &IngestError{Cause: err}
		}

		// All children are durable; flip the snapshot to finished inside the
		// same unit of work so readers either see everything or nothing.
		err := tx.Model(&store.Snapshot{}).Where("id = ?", snap.ID).Update("finished", true).Error
		if err != nil {
			return &IngestError{Cause: fmt.Errorf("failed to finish snapshot: %w", err)}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSnapshot) {
			duplicateSnapshots.WithLabelValues(providerID, feedType).Inc()
		} else {
			ingestFailures.WithLabelValues(providerID, feedType).Inc()
		}
		return 0, err
	}

	snapshotsIngested.WithLabelValues(providerID, feedType).Inc()
	entitiesProcessed.WithLabelValues(providerID, feedType).Add(float64(len(payloads)))

	n.logger.Info("ingested snapshot",
		"provider", providerID,
		"feed_type", feedType,
		"snapshot_id", snap.ID,
		"feed_timestamp", snap.FeedTimestamp,
		"entities", len(payloads))

	return snap.ID, nil
}

// writeEntities stages and bulk-inserts every child row of the snapshot,
// one batched insert per table.
func (n *Normalizer) writeEntities(tx *gorm.DB, providerID string, snapshotID uint, payloads []payload) error {
	var (
		tripDescs    []store.TripDescriptor
		vehicleDescs []store.VehicleDescriptor
		positions    []store.Position

		tripUpdates      []*store.TripUpdate
		vehiclePositions []*store.VehiclePosition
		alerts           []*store.Alert
	)
	seenTrips := map[string]bool{}
	seenVehicles := map[string]bool{}

	// Per-payload staging indexes so child rows can be linked to their
	// parents after the batched inserts assign ids.
	tuIdx := make([]int, len(payloads))
	vpIdx := make([]int, len(payloads))
	alertIdx := make([]int, len(payloads))

	stageTrip := func(td *gtfsrt.TripDescriptor) string {
		if td == nil || td.GetTripId() == "" {
			return ""
		}
		id := td.GetTripId()
		if !seenTrips[id] {
			seenTrips[id] = true
			tripDescs = append(tripDescs, store.TripDescriptor{
				ProviderID:           providerID,
				TripID:               id,
				RouteID:              td.RouteId,
				DirectionID:          td.DirectionId,
				ScheduleRelationship: int32(td.GetScheduleRelationship()),
				StartDate:            td.StartDate,
				StartTime:            td.StartTime,
			})
		}
		return id
	}

	stageVehicle := func(vd *gtfsrt.VehicleDescriptor) string {
		if vd == nil || vd.GetId() == "" {
			return ""
		}
		id := vd.GetId()
		if !seenVehicles[id] {
			seenVehicles[id] = true
			vehicleDescs = append(vehicleDescs, store.VehicleDescriptor{
				ProviderID:   providerID,
				VehicleID:    id,
				Label:        vd.Label,
				LicensePlate: vd.LicensePlate,
			})
		}
		return id
	}

	for i, p := range payloads {
		if n.entityHook != nil {
			if err := n.entityHook(i); err != nil {
				return err
			}
		}

		tuIdx[i], vpIdx[i], alertIdx[i] = -1, -1, -1

		switch p.kind {
		case store.KindTripUpdate:
			tu := p.tripUpdate
			row := &store.TripUpdate{
				ProviderID: providerID,
				EntityID:   p.entityID,
				TripID:     stageTrip(tu.GetTrip()),
				VehicleID:  stageVehicle(tu.GetVehicle()),
				Delay:      tu.Delay,
			}
			if tu.Timestamp != nil {
				t := time.Unix(int64(tu.GetTimestamp()), 0).UTC()
				row.Timestamp = &t
			}
			tuIdx[i] = len(tripUpdates)
			tripUpdates = append(tripUpdates, row)

		case store.KindVehiclePosition:
			vp := p.vehiclePosition
			row := &store.VehiclePosition{
				ProviderID:          providerID,
				EntityID:            p.entityID,
				TripID:              stageTrip(vp.GetTrip()),
				VehicleID:           stageVehicle(vp.GetVehicle()),
				CurrentStopSequence: vp.CurrentStopSequence,
				StopID:              vp.StopId,
				CurrentStatus:       int32(vp.GetCurrentStatus()),
				CongestionLevel:     int32(vp.GetCongestionLevel()),
				OccupancyStatus:     int32(vp.GetOccupancyStatus()),
				OccupancyPercentage: vp.OccupancyPercentage,
			}
			if vp.Timestamp != nil {
				t := time.Unix(int64(vp.GetTimestamp()), 0).UTC()
				row.Timestamp = &t
			}
			if pos := vp.GetPosition(); pos != nil {
				positions = append(positions, positionRow(providerID, p.entityID, pos))
			}
			vpIdx[i] = len(vehiclePositions)
			vehiclePositions = append(vehiclePositions, row)

		case store.KindAlert:
			a := p.alert
			row := &store.Alert{
				ProviderID:         providerID,
				EntityID:           p.entityID,
				Cause:              int32(a.GetCause()),
				Effect:             int32(a.GetEffect()),
				SeverityLevel:      int32(a.GetSeverityLevel()),
				URL:                translatedJSON(a.GetUrl()),
				HeaderText:         translatedJSON(a.GetHeaderText()),
				DescriptionText:    translatedJSON(a.GetDescriptionText()),
				TTSHeaderText:      translatedJSON(a.GetTtsHeaderText()),
				TTSDescriptionText: translatedJSON(a.GetTtsDescriptionText()),
			}
			alertIdx[i] = len(alerts)
			alerts = append(alerts, row)
		}
	}

	// Shared descriptors first: insert-if-absent, shared across snapshots.
	if len(tripDescs) > 0 {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(tripDescs, batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert trip descriptors: %w", err)
		}
	}
	if len(vehicleDescs) > 0 {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(vehicleDescs, batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert vehicle descriptors: %w", err)
		}
	}
	if len(positions) > 0 {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(positions, batchSize).Error
		if err != nil {
			return fmt.Errorf("failed to upsert positions: %w", err)
		}
	}

	if len(tripUpdates) > 0 {
		if err := tx.CreateInBatches(tripUpdates, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create trip updates: %w", err)
		}
		if err := n.writeStopTimeUpdates(tx, payloads, tuIdx, tripUpdates); err != nil {
			return err
		}
	}
	if len(vehiclePositions) > 0 {
		if err := tx.CreateInBatches(vehiclePositions, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create vehicle positions: %w", err)
		}
	}
	if len(alerts) > 0 {
		if err := tx.CreateInBatches(alerts, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create alerts: %w", err)
		}
		if err := writeAlertChildren(tx, payloads, alertIdx, alerts); err != nil {
			return err
		}
	}

	entities := make([]store.Entity, 0, len(payloads))
	for i, p := range payloads {
		ent := store.Entity{
			SnapshotID: snapshotID,
			EntityID:   p.entityID,
			IsDeleted:  p.isDeleted,
			Kind:       p.kind,
		}
		switch p.kind {
		case store.KindTripUpdate:
			ent.TripUpdateID = &tripUpdates[tuIdx[i]].ID
		case store.KindVehiclePosition:
			ent.VehiclePositionID = &vehiclePositions[vpIdx[i]].ID
		case store.KindAlert:
			ent.AlertID = &alerts[alertIdx[i]].ID
		}
		entities = append(entities, ent)
	}
	if len(entities) > 0 {
		if err := tx.CreateInBatches(entities, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create entities: %w", err)
		}
	}

	return nil
}

// writeStopTimeUpdates bulk-inserts the stop time updates of every trip
// update in the snapshot, then their arrival/departure events.
func (n *Normalizer) writeStopTimeUpdates(tx *gorm.DB, payloads []payload, tuIdx []int, tripUpdates []*store.TripUpdate) error {
	var stus []*store.StopTimeUpdate
	type pendingEvents struct {
		stu       *store.StopTimeUpdate
		arrival   *gtfsrt.TripUpdate_StopTimeEvent
		departure *gtfsrt.TripUpdate_StopTimeEvent
	}
	var pending []pendingEvents

	for i, p := range payloads {
		if p.kind != store.KindTripUpdate {
			continue
		}
		parentID := tripUpdates[tuIdx[i]].ID
		for _, stu := range p.tripUpdate.GetStopTimeUpdate() {
			row := &store.StopTimeUpdate{
				TripUpdateID:         parentID,
				StopSequence:         stu.StopSequence,
				StopID:               stu.StopId,
				ScheduleRelationship: int32(stu.GetScheduleRelationship()),
			}
			stus = append(stus, row)
			pending = append(pending, pendingEvents{
				stu:       row,
				arrival:   stu.GetArrival(),
				departure: stu.GetDeparture(),
			})
		}
	}
	if len(stus) == 0 {
		return nil
	}

	if err := tx.CreateInBatches(stus, batchSize).Error; err != nil {
		return fmt.Errorf("failed to create stop time updates: %w", err)
	}

	var events []store.StopTimeEvent
	for _, p := range pending {
		if p.arrival != nil {
			events = append(events, eventRow(p.stu.ID, store.EventArrival, p.arrival))
		}
		if p.departure != nil {
			events = append(events, eventRow(p.stu.ID, store.EventDeparture, p.departure))
		}
	}
	if len(events) > 0 {
		if err := tx.CreateInBatches(events, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create stop time events: %w", err)
		}
	}

	return nil
}

func writeAlertChildren(tx *gorm.DB, payloads []payload, alertIdx []int, alerts []*store.Alert) error {
	var ranges []store.TimeRange
	var selectors []store.EntitySelector

	for i, p := range payloads {
		if p.kind != store.KindAlert {
			continue
		}
		parentID := alerts[alertIdx[i]].ID

		for _, period := range p.alert.GetActivePeriod() {
			tr := store.TimeRange{AlertID: parentID}
			if period.Start != nil {
				t := time.Unix(int64(period.GetStart()), 0).UTC()
				tr.Start = &t
			}
			if period.End != nil {
				t := time.Unix(int64(period.GetEnd()), 0).UTC()
				tr.End = &t
			}
			ranges = append(ranges, tr)
		}

		for _, informed := range p.alert.GetInformedEntity() {
			sel := store.EntitySelector{
				AlertID:     parentID,
				AgencyID:    informed.AgencyId,
				RouteID:     informed.RouteId,
				RouteType:   informed.RouteType,
				DirectionID: informed.DirectionId,
				StopID:      informed.StopId,
			}
			if trip := informed.GetTrip(); trip != nil && trip.GetTripId() != "" {
				id := trip.GetTripId()
				sel.TripID = &id
			}
			selectors = append(selectors, sel)
		}
	}

	if len(ranges) > 0 {
		if err := tx.CreateInBatches(ranges, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create time ranges: %w", err)
		}
	}
	if len(selectors) > 0 {
		if err := tx.CreateInBatches(selectors, batchSize).Error; err != nil {
			return fmt.Errorf("failed to create entity selectors: %w", err)
		}
	}
	return nil
}

func eventRow(stuID uint, typ int, ev *gtfsrt.TripUpdate_StopTimeEvent) store.StopTimeEvent {
	row := store.StopTimeEvent{
		StopTimeUpdateID: stuID,
		Type:             typ,
		Delay:            ev.Delay,
		Uncertainty:      ev.Uncertainty,
	}
	if ev.Time != nil {
		t := time.Unix(ev.GetTime(), 0).UTC()
		row.Time = &t
	}
	return row
}

func positionRow(providerID, entityID string, pos *gtfsrt.Position) store.Position {
	row := store.Position{
		ProviderID: providerID,
		EntityID:   entityID,
	}
	if pos.Latitude != nil {
		s := strconv.FormatFloat(float64(pos.GetLatitude()), 'f', -1, 32)
		row.Latitude = &s
	}
	if pos.Longitude != nil {
		s := strconv.FormatFloat(float64(pos.GetLongitude()), 'f', -1, 32)
		row.Longitude = &s
	}
	if pos.Bearing != nil {
		b := int32(pos.GetBearing())
		row.Bearing = &b
	}
	if pos.Odometer != nil {
		s := strconv.FormatFloat(pos.GetOdometer(), 'f', -1, 64)
		row.Odometer = &s
	}
	if pos.Speed != nil {
		s := strconv.FormatFloat(float64(pos.GetSpeed()), 'f', -1, 32)
		row.Speed = &s
	}
	return row
}

type translation struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type translatedString struct {
	Translation []translation `json:"translation"`
}

// translatedJSON flattens a TranslatedString into the JSON blob shape the
// alert listing serves back out.
func translatedJSON(ts *gtfsrt.TranslatedString) *string {
	if ts == nil || len(ts.GetTranslation()) == 0 {
		return nil
	}
	out := translatedString{}
	for _, tr := range ts.GetTranslation() {
		out.Translation = append(out.Translation, translation{
			Text:     tr.GetText(),
			Language: tr.GetLanguage(),
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
