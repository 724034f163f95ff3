package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanofslack/dns-prefix-sync/internal/config"
	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/prefix"
	"github.com/evanofslack/dns-prefix-sync/internal/provider"
)

type Engine interface {
	Reconcile(ctx context.Context) (Results, error)
}

// Reconciler converges the records of every configured prefix to exactly
// target records, re-randomising the address of every record it keeps.
type Reconciler struct {
	dnsProvider provider.Provider
	prefixes    []prefix.Prefix
	target      int
	name        string
	ttl         time.Duration
	dryRun      bool
	concurrency int
	intn        prefix.Intn
	metrics     *metrics.Metrics

	// serialises runs
	mu sync.Mutex
}

func NewEngine(dp provider.Provider, cfg *config.Config, metrics *metrics.Metrics) (*Reconciler, error) {
	prefixes, err := prefix.ParseList(cfg.Prefixes)
	if err != nil {
		return nil, fmt.Errorf("parse prefixes: %w", err)
	}
	if cfg.TargetCount() < 0 {
		return nil, fmt.Errorf("target must not be negative, got %d", cfg.TargetCount())
	}
	return &Reconciler{
		dnsProvider: dp,
		prefixes:    prefixes,
		target:      cfg.TargetCount(),
		name:        cfg.Cloudflare.RecordName,
		ttl:         time.Duration(cfg.Cloudflare.TTL) * time.Second,
		dryRun:      cfg.DryRun,
		concurrency: cfg.Concurrency,
		metrics:     metrics,
	}, nil
}

// Reconcile performs one run. Per-record failures end up in
// Results.Errors; an error is only returned if the run could not start.
func (e *Reconciler) Reconcile(ctx context.Context) (Results, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Results{}, fmt.Errorf("reconcile: %w", err)
	}

	listed := true
	records, err := e.dnsProvider.GetRecords(ctx)
	if err != nil {
		// the provider is the only source of truth, so carry on as if it were empty
		slog.Warn("Failed to list DNS records, treating as empty", "error", err)
		records = nil
		listed = false
	}
	slog.Info("Got records from dns provider", "count", len(records))

	plans := make([]Plan, 0, len(e.prefixes))
	for _, p := range e.prefixes {
		plan := e.generatePlan(p, records)
		if listed {
			e.metrics.SetRecordsObserved(p.String(), plan.Observed)
		}
		slog.Debug("Planned prefix",
			"prefix", p.String(),
			"observed", plan.Observed,
			"delete", len(plan.Delete),
			"update", len(plan.Update),
			"create", len(plan.Create))
		plans = append(plans, plan)
	}

	if e.dryRun {
		results := Results{DryRun: true, Errors: []string{}}
		for _, plan := range plans {
			results.Deleted += len(plan.Delete)
			results.Updated += len(plan.Update)
			results.Created += len(plan.Create)
		}
		slog.Info("Dry run mode - would apply plan",
			"delete", results.Deleted,
			"update", results.Updated,
			"create", results.Created)
		return results, nil
	}

	results := e.executePlans(ctx, plans)
	slog.Info("Reconciliation completed",
		"deleted", results.Deleted,
		"updated", results.Updated,
		"created", results.Created,
		"errors", len(results.Errors))
	return results, nil
}

func (e *Reconciler) generatePlan(p prefix.Prefix, records []provider.Record) Plan {
	return planPrefix(p, records, e.target, func() provider.Record {
		return provider.NewAddress(e.name, p.Random(e.intn), e.ttl)
	})
}

// planPrefix keeps the first target matching records in listing order,
// deletes the rest and tops up with fresh records.
func planPrefix(p prefix.Prefix, records []provider.Record, target int, fresh func() provider.Record) Plan {
	var related []provider.Record
	for _, r := range records {
		if p.Matches(r.Data) {
			related = append(related, r)
		}
	}

	plan := Plan{Prefix: p, Observed: len(related)}
	if len(related) > target {
		plan.Delete = related[target:]
		related = related[:target]
	}
	for _, r := range related {
		update := fresh()
		update.ID = r.ID
		plan.Update = append(plan.Update, update)
	}
	for i := len(related); i < target; i++ {
		plan.Create = append(plan.Create, fresh())
	}
	return plan
}

type operation func(ctx context.Context, record provider.Record) error

// executePlans dispatches every operation of every plan at once and waits
// for all of them to settle.
func (e *Reconciler) executePlans(ctx context.Context, plans []Plan) Results {
	report := &Report{}
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}

	dispatch := func(op, pfx string, records []provider.Record, fn operation) {
		for _, record := range records {
			g.Go(func() error {
				e.apply(ctx, report, op, pfx, record, fn)
				return nil
			})
		}
	}

	for _, plan := range plans {
		pfx := plan.Prefix.String()
		dispatch(opDelete, pfx, plan.Delete, e.dnsProvider.DeleteRecord)
		dispatch(opUpdate, pfx, plan.Update, e.dnsProvider.UpdateRecord)
		dispatch(opCreate, pfx, plan.Create, e.dnsProvider.CreateRecord)
	}
	_ = g.Wait()

	return report.Results()
}

func (e *Reconciler) apply(ctx context.Context, report *Report, op, pfx string, record provider.Record, fn operation) {
	slog.Debug("Start execute "+op+" from plan", "prefix", pfx, "id", record.ID, "data", record.Data)
	err := fn(ctx, record)
	if err != nil {
		slog.Error("Failed to "+op+" record", "prefix", pfx, "id", record.ID, "data", record.Data, "error", err)
	}
	e.metrics.IncDNSOperation(op, pfx, err == nil)
	report.Record(op, err)
}

// Observe runs engine once and records run metrics under trigger.
func Observe(ctx context.Context, engine Engine, metrics *metrics.Metrics, trigger string) (Results, error) {
	start := time.Now()
	results, err := engine.Reconcile(ctx)
	metrics.SetRunDuration(time.Since(start))
	metrics.IncRun(trigger, err == nil && !results.Failed())
	return results, err
}
