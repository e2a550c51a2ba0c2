// Package refresh imports the configured ICS feeds into the event store on a
// cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"parishcal/internal/config"
	"parishcal/internal/ics"
	appLog "parishcal/internal/log"
	"parishcal/internal/model"
)

// Sink receives imported events. *store.Store satisfies it.
type Sink interface {
	List() []model.Event
	ReplaceSource(source string, events []model.Event) (int, error)
}

// Refresher runs ICS imports. Runs never overlap.
type Refresher struct {
	schedule    string
	loc         *time.Location
	horizonDays int
	feeds       []ics.Feed
	fetcher     *ics.Fetcher
	sink        Sink
	now         func() time.Time

	runMu sync.Mutex
}

// New builds a Refresher from cfg. A nil client uses the fetcher default.
func New(cfg *config.Config, sink Sink, client *http.Client) *Refresher {
	feeds := make([]ics.Feed, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		feeds = append(feeds, ics.Feed{ID: c.SourceID(), URL: c.URL, Language: c.Language})
	}
	return &Refresher{
		schedule:    cfg.RefreshCron,
		loc:         cfg.Location(),
		horizonDays: cfg.HorizonDays,
		feeds:       feeds,
		fetcher:     ics.NewFetcher(cfg.CacheDir, client),
		sink:        sink,
		now:         time.Now,
	}
}

// RunOnce fetches every feed and replaces its events in the sink. A feed
// that cannot be fetched or parsed keeps its previously imported events.
// Imported sources no longer configured are emptied.
func (r *Refresher) RunOnce(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := r.now()
	results, errs := r.fetcher.FetchAll(ctx, r.feeds)

	imported := 0
	for _, res := range results {
		vevents, err := ics.Parse(res.Body, r.loc)
		if err != nil {
			appLog.Error("refresh: parse failed", err, "feed", res.Feed.ID)
			errs = append(errs, fmt.Errorf("feed %s: parse: %w", res.Feed.ID, err))
			continue
		}
		events := ics.ToEvents(res.Feed, vevents, ics.ImportConfig{
			Location:    r.loc,
			Now:         start,
			HorizonDays: r.horizonDays,
		})
		skipped, err := r.sink.ReplaceSource(ics.SourceName(res.Feed), events)
		if err != nil {
			appLog.Error("refresh: store update failed", err, "feed", res.Feed.ID)
			errs = append(errs, fmt.Errorf("feed %s: store: %w", res.Feed.ID, err))
			continue
		}
		imported += len(events) - skipped
	}

	if err := r.pruneStale(); err != nil {
		errs = append(errs, err)
	}

	appLog.Info("refresh: run finished",
		"feeds", len(r.feeds),
		"imported", imported,
		"errors", len(errs),
		"took", r.now().Sub(start).String(),
	)
	return errors.Join(errs...)
}

func (r *Refresher) pruneStale() error {
	configured := make(map[string]bool, len(r.feeds))
	for _, f := range r.feeds {
		configured[ics.SourceName(f)] = true
	}
	stale := make(map[string]bool)
	for _, ev := range r.sink.List() {
		if strings.HasPrefix(ev.Source, "ics:") && !configured[ev.Source] {
			stale[ev.Source] = true
		}
	}
	var errs []error
	for source := range stale {
		appLog.Info("refresh: removing events of unconfigured feed", "source", source)
		if _, err := r.sink.ReplaceSource(source, nil); err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", source, err))
		}
	}
	return errors.Join(errs...)
}

// Run imports once immediately, then on every tick of the cron schedule
// until ctx is done. It waits for an in-flight run before returning.
func (r *Refresher) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.runLogged(ctx) }); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", r.schedule, err)
	}

	r.runLogged(ctx)

	c.Start()
	appLog.Info("refresh: scheduler started", "schedule", r.schedule, "timezone", r.loc.String(), "feeds", len(r.feeds))

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh: scheduler stopped")
	return nil
}

func (r *Refresher) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.RunOnce(ctx); err != nil {
		appLog.Warn("refresh: run finished with errors", "err", err.Error())
	}
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
