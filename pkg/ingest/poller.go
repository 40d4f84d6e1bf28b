package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opentransit/gtfsrt.tools/pkg/config"
	"github.com/opentransit/gtfsrt.tools/pkg/feed"
	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

// Feed types tagged onto snapshots by the trigger.
const (
	FeedTypeTripUpdates = "trip_updates"
	FeedTypeAlerts      = "alerts"
)

const maxAttempts = 3

// Poller is the ingestion trigger: it fetches every configured provider's
// feeds on an interval and hands the decoded messages to the normalizer.
// Delivery is at-least-once; a failed poll is retried with the same bytes
// within the tick and then surrendered to the next tick.
type Poller struct {
	logger     *slog.Logger
	cfg        *config.Config
	client     *feed.Client
	normalizer *Normalizer
	store      *store.Store
	interval   time.Duration

	shutdown chan chan error
}

func NewPoller(
	logger *slog.Logger,
	cfg *config.Config,
	client *feed.Client,
	normalizer *Normalizer,
	st *store.Store,
	interval time.Duration,
) *Poller {
	return &Poller{
		logger:     logger.With("module", "poller"),
		cfg:        cfg,
		client:     client,
		normalizer: normalizer,
		store:      st,
		interval:   interval,
		shutdown:   make(chan chan error),
	}
}

// Shutdown stops the run loop. It returns early if the loop already exited
// or the context expires.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.logger.Info("attempting to shutdown poller")
	errCh := make(chan error, 1)
	select {
	case p.shutdown <- errCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("running")

	for id, prov := range p.cfg.Providers {
		if err := p.store.EnsureProvider(id, prov.Name); err != nil {
			return err
		}
	}

	// Poll once at startup, then on every tick.
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case errCh := <-p.shutdown:
			p.logger.Info("shutting down run loop")
			errCh <- nil
			return nil
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for providerID, prov := range p.cfg.Providers {
		feeds := []struct {
			url      string
			feedType string
		}{
			{prov.TripUpdatesURL, FeedTypeTripUpdates},
			{prov.AlertsURL, FeedTypeAlerts},
		}
		for _, f := range feeds {
			if f.url == "" {
				continue
			}
			p.pollOne(ctx, providerID, f.feedType, f.url, prov.Headers)
		}
	}
}

// pollOne runs one fetch-decode-normalize cycle. The job id correlates the
// retries of a single poll in the logs.
func (p *Poller) pollOne(ctx context.Context, providerID, feedType, url string, headers map[string]string) {
	logger := p.logger.With(
		"job_id", uuid.New().String(),
		"provider", providerID,
		"feed_type", feedType,
	)

	b, err := p.client.Fetch(ctx, url, headers)
	if err != nil {
		logger.Error("failed to fetch feed", "err", err)
		return
	}

	fm, err := feed.Decode(b)
	if err != nil {
		logger.Error("failed to decode feed", "err", err)
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err = p.normalizer.Normalize(ctx, providerID, feedType, fm)
		if err == nil {
			return
		}
		if errors.Is(err, ErrDuplicateSnapshot) {
			logger.Debug("snapshot already ingested")
			return
		}
		if errors.Is(err, ErrMalformedHeader) {
			logger.Error("feed header malformed, dropping poll", "err", err)
			return
		}

		logger.Error("failed to normalize feed", "err", err, "attempt", attempt)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}
