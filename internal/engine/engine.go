// Package engine drives the analytics population pipeline: it streams the
// procurement ledger in bounded-memory batches, hands them to the pure
// computation stages, and bulk-upserts the derived documents. Stages run in a
// fixed sequence; every write is an idempotent upsert on a natural key, so an
// aborted run is resumed by simply rerunning from the top.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opengov-uy/compras-analytics/internal/analytics"
	"github.com/opengov-uy/compras-analytics/internal/currency"
	"github.com/opengov-uy/compras-analytics/internal/model"
	"github.com/opengov-uy/compras-analytics/internal/store"
)

// Stage names one pipeline stage.
type Stage string

const (
	StageAmounts   Stage = "amounts"
	StagePatterns  Stage = "patterns"
	StageAnomalies Stage = "anomalies"
)

// stageOrder is fixed so later stages can rely on earlier stages' committed
// output (entity rollups may read the amount summaries already written).
var stageOrder = []Stage{StageAmounts, StagePatterns, StageAnomalies}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageAmounts, StagePatterns, StageAnomalies:
		return Stage(s), nil
	}
	return "", eris.Errorf("engine: unknown stage %q", s)
}

// Options configures a pipeline run.
type Options struct {
	// BatchSize bounds how many records are processed per batch.
	BatchSize int

	// BatchTimeout is the wall-clock budget per batch, guarding against a
	// degenerate grouping key stalling the pipeline.
	BatchTimeout time.Duration

	// RunTimeout is the wall-clock budget for the whole run.
	RunTimeout time.Duration

	// Stages restricts the run to a subset; empty means all stages.
	Stages []Stage

	// Spike tunes price-spike detection.
	Spike analytics.SpikeOptions
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 2 * time.Minute
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = 2 * time.Hour
	}
	return o
}

func (o Options) stageEnabled(s Stage) bool {
	if len(o.Stages) == 0 {
		return true
	}
	for _, enabled := range o.Stages {
		if enabled == s {
			return true
		}
	}
	return false
}

// Engine orchestrates a full pipeline run.
type Engine struct {
	store  store.Store
	runLog *RunLog
	rates  currency.RateTable
	opts   Options
}

// New creates an Engine over the given store with that run's rate table.
func New(st store.Store, runLog *RunLog, rates currency.RateTable, opts Options) *Engine {
	return &Engine{
		store:  st,
		runLog: runLog,
		rates:  rates,
		opts:   opts.withDefaults(),
	}
}

// Run executes the enabled stages in their fixed order. An unrecoverable
// error aborts the remaining stages; already-committed batches stand, and the
// partial report is returned alongside the error.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "engine"))

	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}

	total, err := e.store.CountRecords(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: count records")
	}

	latest, err := e.store.LatestDataVersion(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: latest data version")
	}
	version := latest + 1

	report := &RunReport{
		DataVersion:  version,
		TotalRecords: total,
		StartedAt:    time.Now().UTC(),
	}

	log.Info("starting pipeline run",
		zap.Int64("total_records", total),
		zap.Int("data_version", version),
		zap.Int("batch_size", e.opts.BatchSize),
	)

	for _, stage := range stageOrder {
		if !e.opts.stageEnabled(stage) {
			continue
		}

		sr, err := e.runStage(ctx, stage, total, version)
		report.Stages = append(report.Stages, sr)
		if stage == StageAnomalies {
			report.AnomaliesFound = sr.Written
		}
		if err != nil {
			report.CompletedAt = time.Now().UTC()
			return report, eris.Wrapf(err, "engine: stage %s", stage)
		}
	}

	report.CompletedAt = time.Now().UTC()
	log.Info("pipeline run complete",
		zap.Int("data_version", version),
		zap.Duration("elapsed", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// runStage wraps one stage with run-log bookkeeping.
func (e *Engine) runStage(ctx context.Context, stage Stage, total int64, version int) (StageReport, error) {
	log := zap.L().With(zap.String("component", "engine"), zap.String("stage", string(stage)))

	sr := StageReport{Stage: stage}
	start := time.Now()

	runID, err := e.runLog.Start(ctx, string(stage), version)
	if err != nil {
		return sr, err
	}
	e.store.SetRunContext(runID, string(stage))

	log.Info("stage starting", zap.String("run_id", runID))

	switch stage {
	case StageAmounts:
		err = e.runAmounts(ctx, total, &sr)
	case StagePatterns:
		err = e.runPatterns(ctx, total, version, &sr)
	case StageAnomalies:
		err = e.runAnomalies(ctx, total, version, &sr)
	}

	sr.Elapsed = time.Since(start)

	if err != nil {
		log.Error("stage failed", zap.Error(err), zap.Duration("elapsed", sr.Elapsed))
		if logErr := e.runLog.Fail(ctx, runID, err.Error()); logErr != nil {
			log.Error("failed to record stage failure", zap.Error(logErr))
		}
		return sr, err
	}

	if err := e.runLog.Complete(ctx, runID, sr.Processed, sr.Written, sr.Failed, nil); err != nil {
		log.Error("failed to record stage completion", zap.Error(err))
	}

	log.Info("stage complete",
		zap.Int64("processed", sr.Processed),
		zap.Int64("written", sr.Written),
		zap.Int64("failed", sr.Failed),
		zap.Duration("elapsed", sr.Elapsed),
	)
	return sr, nil
}

// streamBatches reads ledger batches on one goroutine and processes them on
// another, overlapping the next batch's I/O with the current batch's compute
// and upsert. Each batch gets its own wall-clock budget.
func (e *Engine) streamBatches(ctx context.Context, opts store.StreamOptions, process func(ctx context.Context, batch []model.ProcurementRecord) error) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []model.ProcurementRecord, 1)

	g.Go(func() error {
		defer close(batches)
		return e.store.StreamRecords(gctx, opts, func(batch []model.ProcurementRecord) error {
			select {
			case batches <- batch:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		for batch := range batches {
			batchCtx, cancel := context.WithTimeout(gctx, e.opts.BatchTimeout)
			err := process(batchCtx, batch)
			cancel()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// runAmounts recomputes the amount summary for every record.
func (e *Engine) runAmounts(ctx context.Context, total int64, sr *StageReport) error {
	log := zap.L().With(zap.String("component", "engine"), zap.String("stage", string(StageAmounts)))

	return e.streamBatches(ctx, store.StreamOptions{BatchSize: e.opts.BatchSize}, func(ctx context.Context, batch []model.ProcurementRecord) error {
		ids := make([]string, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}

		prev, err := e.store.GetSummaries(ctx, ids)
		if err != nil {
			return err
		}

		summaries := make([]model.AmountSummary, 0, len(batch))
		for _, rec := range batch {
			var prevSum *model.AmountSummary
			if p, ok := prev[rec.ID]; ok {
				prior := p
				prevSum = &prior
			}
			summaries = append(summaries, analytics.ComputeAmountSummary(rec.ID, rec.Awards, e.rates, prevSum))
		}

		res, err := e.store.UpsertSummaries(ctx, summaries)
		if err != nil {
			return err
		}

		sr.Processed += int64(len(batch))
		sr.Written += res.Written
		sr.Failed += res.Failed

		log.Info("batch committed",
			zap.Int64("processed", sr.Processed),
			zap.Int64("total", total),
		)
		return nil
	})
}

// patternProjection limits pattern streaming to the fields the rollup needs.
var patternProjection = []string{"awards", "buyer", "publishedAt", "sourceYear"}

// runPatterns folds the full ledger into supplier and buyer rollups, then
// upserts them in chunks. Rollups are recomputed from scratch each run.
func (e *Engine) runPatterns(ctx context.Context, total int64, version int, sr *StageReport) error {
	log := zap.L().With(zap.String("component", "engine"), zap.String("stage", string(StagePatterns)))

	suppliers := analytics.NewAccumulator(model.RoleSupplier, e.rates, version)
	buyers := analytics.NewAccumulator(model.RoleBuyer, e.rates, version)

	opts := store.StreamOptions{BatchSize: e.opts.BatchSize, Projection: patternProjection}
	err := e.streamBatches(ctx, opts, func(ctx context.Context, batch []model.ProcurementRecord) error {
		suppliers.Add(batch...)
		buyers.Add(batch...)
		sr.Processed += int64(len(batch))
		log.Info("batch folded",
			zap.Int64("processed", sr.Processed),
			zap.Int64("total", total),
		)
		return nil
	})
	if err != nil {
		return err
	}

	patterns := append(suppliers.Patterns(), buyers.Patterns()...)
	log.Info("rollups materialized", zap.Int("entities", len(patterns)))

	for start := 0; start < len(patterns); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(patterns))
		res, err := e.store.UpsertPatterns(ctx, patterns[start:end])
		if err != nil {
			return err
		}
		sr.Written += res.Written
		sr.Failed += res.Failed
	}
	return nil
}

// runAnomalies collects high-value items across the ledger, detects price
// spikes once over the full filtered population, and upserts the findings.
func (e *Engine) runAnomalies(ctx context.Context, total int64, version int, sr *StageReport) error {
	log := zap.L().With(zap.String("component", "engine"), zap.String("stage", string(StageAnomalies)))

	spike := e.opts.Spike
	if spike.HighValueThreshold <= 0 {
		spike = analytics.DefaultSpikeOptions()
	}

	// Only items above the high-value cutoff are retained, which bounds the
	// in-memory comparison set no matter how large the ledger is.
	var candidates []analytics.PricedItem

	opts := store.StreamOptions{BatchSize: e.opts.BatchSize, Projection: patternProjection}
	err := e.streamBatches(ctx, opts, func(ctx context.Context, batch []model.ProcurementRecord) error {
		for _, rec := range batch {
			candidates = append(candidates, e.collectCandidates(rec, spike.HighValueThreshold)...)
		}
		sr.Processed += int64(len(batch))
		log.Info("batch scanned",
			zap.Int64("processed", sr.Processed),
			zap.Int64("total", total),
			zap.Int("candidates", len(candidates)),
		)
		return nil
	})
	if err != nil {
		return err
	}

	anomalies := analytics.DetectPriceSpikes(candidates, spike, version)
	log.Info("detection complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("anomalies", len(anomalies)),
	)

	for start := 0; start < len(anomalies); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(anomalies))
		res, err := e.store.UpsertAnomalies(ctx, anomalies[start:end])
		if err != nil {
			return err
		}
		sr.Written += res.Written
		sr.Failed += res.Failed
	}
	return nil
}

// collectCandidates flattens a record's items into spike candidates with
// canonical-currency amounts, keeping only those above the cutoff.
func (e *Engine) collectCandidates(rec model.ProcurementRecord, cutoff float64) []analytics.PricedItem {
	var out []analytics.PricedItem
	for _, award := range rec.Awards {
		supplierName := ""
		if len(award.Suppliers) > 0 {
			supplierName = award.Suppliers[0].Name
		}
		for _, item := range award.Items {
			if item.UnitValue == nil {
				continue
			}
			code := item.UnitValue.CurrencyOrDefault()
			amount, ok := currency.Convert(item.UnitValue.Amount, code, e.rates)
			if !ok || amount <= cutoff {
				continue
			}
			out = append(out, analytics.PricedItem{
				RecordID:     rec.ID,
				AwardID:      award.ID,
				Description:  item.Classification.DescriptionOrUnknown(),
				Scheme:       item.Classification.Scheme,
				Amount:       amount,
				SupplierName: supplierName,
				BuyerName:    rec.Buyer.Name,
				Year:         rec.Year(),
				Currency:     code,
			})
		}
	}
	return out
}
