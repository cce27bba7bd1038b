package rowflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/rowflow/domain/model"
)

// Import decodes src according to opts and persists the resulting rows into sink.
//
// The job moves through pending, validating and processing to completed, partial or failed.
// The returned job is never nil; err is non-nil exactly when the job failed. src is closed
// on every exit path when it implements io.Closer.
func Import(ctx context.Context, src io.Reader, sink RecordSink, opts ImportOptions) (*ImportJob, error) {
	p := newImportPipeline(sink, opts)
	closeSrc := func() error {
		if c, ok := src.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}

	if err := p.preflight(); err != nil {
		return p.abort(errors.Join(err, closeSrc()))
	}

	rows, closeDecoder, err := p.open(ctx, src)
	if err != nil {
		return p.abort(errors.Join(err, closeSrc()))
	}
	return p.importFrom(ctx, rows, func() error {
		return errors.Join(closeDecoder(), closeSrc())
	})
}

// ImportRows persists the rows of r into sink. r is closed on every exit path.
func ImportRows(ctx context.Context, r RowReader, sink RecordSink, opts ImportOptions) (*ImportJob, error) {
	p := newImportPipeline(sink, opts)
	if err := p.preflight(); err != nil {
		return p.abort(errors.Join(err, r.Close()))
	}
	return p.importFrom(ctx, r, func() error { return nil })
}

// importPipeline carries the state of one import job
type importPipeline struct {
	sink   RecordSink
	opts   ImportOptions
	logger *slog.Logger
	ectx   *ErrorContext
	memory *MemoryLimit

	// mu guards job and serializes observer notifications
	mu      sync.Mutex
	job     *ImportJob
	started time.Time
}

// pendingRow is a row scheduled for persistence. n is its 1-based position in the input.
type pendingRow struct {
	n   int
	row Row
}

func newImportPipeline(sink RecordSink, opts ImportOptions) *importPipeline {
	opts = opts.normalize()
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	p := &importPipeline{
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger.With("component", "import", "job_id", id),
		ectx:    NewErrorContext("import", id).WithFormat(opts.Format.String()),
		memory:  NewMemoryLimit(opts.MemoryLimitMB),
		started: now,
		job: &ImportJob{
			ID:        id,
			Format:    opts.Format.String(),
			Status:    model.StatusPending,
			Config:    snapshotImportOptions(opts),
			StartedAt: now,
		},
	}
	p.emit(Event{Type: EventCreated})
	return p
}

func snapshotImportOptions(opts ImportOptions) model.ConfigSnapshot {
	return model.ConfigSnapshot{
		Format:          opts.Format.String(),
		Compression:     opts.Compression.String(),
		Delimiter:       string(opts.Reader.Delimiter),
		BatchSize:       opts.BatchSize,
		ErrorStrategy:   string(opts.ErrorStrategy),
		UseTransaction:  opts.UseTransaction,
		UpsertKeys:      append([]string(nil), opts.UpsertKeys...),
		DeduplicateBy:   append([]string(nil), opts.DeduplicateBy...),
		DryRun:          opts.DryRun,
		Parallelism:     opts.Parallelism,
		MappingRules:    len(opts.Mapping),
		ValidationRules: len(opts.Validation),
	}
}

// preflight rejects invalid options before any I/O
func (p *importPipeline) preflight() error {
	if err := p.opts.Validate(); err != nil {
		return err
	}
	if p.sink == nil && !p.opts.DryRun {
		return configErr("Sink", "a record sink is required unless DryRun is set")
	}
	if p.opts.UseTransaction && !p.opts.DryRun {
		if _, ok := p.sink.(TxBeginner); !ok {
			return configErr("UseTransaction", "sink %T does not support transactions", p.sink)
		}
	}
	return nil
}

// open builds the row reader over src. The returned function releases the decoder; it never
// closes src.
func (p *importPipeline) open(ctx context.Context, src io.Reader) (RowReader, func() error, error) {
	in, closeDecoder, err := NewCompressionHandler(p.opts.Compression).CreateReader(src)
	if err != nil {
		return nil, nil, err
	}

	cfg := p.opts.Reader
	if p.opts.DetectDelimiter && p.opts.Format.delimited() {
		detection, replay, err := SniffDelimiter(in, p.opts.SampleLines)
		if err != nil {
			return nil, nil, errors.Join(err, closeDecoder())
		}
		p.logger.Debug("delimiter detected",
			slog.String("delimiter", string(detection.Delimiter)),
			slog.Float64("confidence", detection.Confidence),
			slog.Int("columns", detection.Columns))
		cfg.Delimiter = detection.Delimiter
		in = replay

		p.mu.Lock()
		p.job.Config.Delimiter = string(detection.Delimiter)
		p.mu.Unlock()
	}

	// hide Close from the codec so that the caller's stream is closed exactly once
	rows, err := NewRowReader(ctx, p.opts.Format, struct{ io.Reader }{in}, cfg)
	if err != nil {
		return nil, nil, errors.Join(err, closeDecoder())
	}
	return rows, closeDecoder, nil
}

// importFrom drains rows, releases the input and runs the pipeline
func (p *importPipeline) importFrom(ctx context.Context, rows RowReader, release func() error) (*ImportJob, error) {
	p.logger.Info("import started")

	loaded, err := p.load(rows)
	if releaseErr := release(); releaseErr != nil {
		err = errors.Join(err, releaseErr)
	}
	if err != nil {
		p.ectx.WithDetails("reading input")
		return p.abort(err)
	}
	if err := ctx.Err(); err != nil {
		return p.abort(err)
	}
	return p.run(ctx, loaded)
}

// load drains r and closes it. The heap is checked every memoryCheckInterval rows.
func (p *importPipeline) load(r RowReader) (rows []Row, err error) {
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	warned := false
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)

		if p.memory == nil || len(rows)%memoryCheckInterval != 0 {
			continue
		}
		info, err := p.memory.Guard("reading input")
		if err != nil {
			return rows, err
		}
		if info.Status == MemoryStatusWarning && !warned {
			warned = true
			p.logger.Warn("memory usage is close to the limit",
				slog.Int64("current_mb", info.CurrentMB),
				slog.Int64("limit_mb", info.LimitMB),
				slog.Int("rows", len(rows)))
		}
	}
}

// run maps, validates, deduplicates and persists rows
func (p *importPipeline) run(ctx context.Context, rows []Row) (*ImportJob, error) {
	p.mu.Lock()
	p.job.TotalRows = len(rows)
	p.mu.Unlock()
	p.setStatus(model.StatusValidating)

	if len(p.opts.Mapping) > 0 {
		mapped, err := p.mapRows(rows)
		if err != nil {
			return p.abort(err)
		}
		rows = mapped
	}

	invalid, err := p.validateRows(rows)
	if err != nil {
		p.ectx.WithDetails("validation")
		return p.abort(err)
	}

	pending := p.plan(rows, invalid)

	if p.opts.DryRun {
		p.mu.Lock()
		p.job.SuccessRows = len(pending)
		p.job.ProcessedRows += len(pending)
		p.mu.Unlock()
		p.emitProgress()
		p.logger.Info("dry run finished", slog.Int("rows", len(pending)))
		return p.finish(nil)
	}

	p.setStatus(model.StatusProcessing)
	return p.finish(p.persist(ctx, pending))
}

func (p *importPipeline) mapRows(rows []Row) ([]Row, error) {
	var opts []MapperOption
	if p.opts.KeepUnmapped {
		opts = append(opts, WithKeepUnmapped())
	}
	mapper, err := NewMapper(p.opts.Mapping, opts...)
	if err != nil {
		return nil, err
	}

	mapped, warnings := mapper.Map(rows)
	if len(warnings) > 0 {
		p.logger.Warn("mapping produced warnings", slog.Int("warnings", len(warnings)))
	}

	p.mu.Lock()
	p.job.Warnings = append(p.job.Warnings, warnings...)
	p.mu.Unlock()
	return mapped, nil
}

// validateRows returns the set of invalid row numbers. Under the abort strategy any violation
// fails the job before anything is persisted.
func (p *importPipeline) validateRows(rows []Row) (map[int]struct{}, error) {
	if len(p.opts.Validation) == 0 {
		p.mu.Lock()
		p.job.ValidRows = len(rows)
		p.mu.Unlock()
		return nil, nil
	}

	validator, err := NewValidator(p.opts.Validation)
	if err != nil {
		return nil, err
	}

	invalid := make(map[int]struct{})
	var errs []ImportError
	for i, row := range rows {
		rowErrs := validator.ValidateRow(row, i+1)
		if len(rowErrs) > 0 {
			invalid[i+1] = struct{}{}
			errs = append(errs, rowErrs...)
		}
	}

	p.mu.Lock()
	p.job.ValidRows = len(rows) - len(invalid)
	p.job.InvalidRows = len(invalid)
	p.mu.Unlock()

	for _, e := range errs {
		p.recordError(e)
	}

	if len(invalid) > 0 && p.opts.ErrorStrategy == ErrorStrategyAbort {
		p.logger.Warn("validation failed, nothing persisted", slog.Int("invalid_rows", len(invalid)))
		return invalid, &ValidationFailedError{InvalidRows: len(invalid), Errors: len(errs)}
	}
	return invalid, nil
}

// plan drops invalid rows and duplicates. Both count as processed.
func (p *importPipeline) plan(rows []Row, invalid map[int]struct{}) []pendingRow {
	var seen map[string]struct{}
	if len(p.opts.DeduplicateBy) > 0 {
		seen = make(map[string]struct{}, len(rows))
	}

	pending := make([]pendingRow, 0, len(rows))
	for i, row := range rows {
		n := i + 1
		if _, bad := invalid[n]; bad {
			p.advance(nil)
			continue
		}
		if seen != nil {
			key := dedupKey(row, p.opts.DeduplicateBy)
			if _, dup := seen[key]; dup {
				p.advance(func(j *ImportJob) { j.SkippedRows++ })
				continue
			}
			seen[key] = struct{}{}
		}
		pending = append(pending, pendingRow{n: n, row: row})
	}
	return pending
}

// dedupKey builds the composite key of row over columns. Kinds are part of the key so that
// the number 1 and the string "1" stay distinct.
func dedupKey(row Row, columns []string) string {
	var b strings.Builder
	for _, c := range columns {
		v, _ := row.Get(c)
		b.WriteString(v.Kind().String())
		b.WriteByte(':')
		b.WriteString(v.Text())
		b.WriteByte('\x1f')
	}
	return b.String()
}

// persist writes pending rows in batches on a bounded worker pool
func (p *importPipeline) persist(ctx context.Context, pending []pendingRow) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)

	for start := 0; start < len(pending); start += p.opts.BatchSize {
		if gctx.Err() != nil {
			break
		}
		batch := pending[start:min(start+p.opts.BatchSize, len(pending))]
		index := start / p.opts.BatchSize
		g.Go(func() error {
			return p.persistBatch(gctx, index, batch)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// persistBatch writes one batch, inside a transaction when configured. Under the abort strategy
// the first failure rolls back the current batch and stops the job.
func (p *importPipeline) persistBatch(ctx context.Context, index int, batch []pendingRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := p.logger.With(slog.Int("batch", index), slog.Int("rows", len(batch)))
	logger.Debug("persisting batch")

	var (
		w  model.RecordWriter = p.sink
		tx SinkTx
	)
	if p.opts.UseTransaction {
		var err error
		tx, err = p.sink.(TxBeginner).Begin(ctx)
		if err != nil {
			return p.failBatch(batch, fmt.Errorf("begin transaction: %w", err))
		}
		w = tx
	}

	var written []pendingRow
	for _, item := range batch {
		if err := ctx.Err(); err != nil {
			if tx != nil {
				_ = tx.Rollback(context.WithoutCancel(ctx))
				p.revert(written)
			}
			return err
		}

		err := p.write(ctx, w, item.row)
		if err == nil {
			written = append(written, item)
			p.advance(func(j *ImportJob) { j.SuccessRows++ })
			continue
		}

		perr := &PersistenceError{Row: item.n, Err: err}
		p.rowFailed(item, perr)
		if p.opts.ErrorStrategy == ErrorStrategyAbort {
			if tx != nil {
				if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
					logger.Error("rollback failed", slog.Any("error", rbErr))
				}
				p.revert(written)
				logger.Warn("batch rolled back", slog.Int("reverted", len(written)))
			}
			return perr
		}
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			p.revert(written)
			cerr := fmt.Errorf("commit: %w", err)
			for _, item := range written {
				p.recordError(persistError(item, cerr))
			}
			logger.Warn("commit failed", slog.Any("error", err))
			if p.opts.ErrorStrategy == ErrorStrategyAbort && len(written) > 0 {
				return &PersistenceError{Row: written[0].n, Err: cerr}
			}
		}
	}
	return nil
}

func (p *importPipeline) write(ctx context.Context, w model.RecordWriter, row Row) (err error) {
	defer recoverInto(&err)
	if len(p.opts.UpsertKeys) > 0 {
		return w.Upsert(ctx, row, p.opts.UpsertKeys)
	}
	return w.Create(ctx, row)
}

// failBatch marks every row of batch failed with err
func (p *importPipeline) failBatch(batch []pendingRow, err error) error {
	for _, item := range batch {
		p.rowFailed(item, &PersistenceError{Row: item.n, Err: err})
	}
	if p.opts.ErrorStrategy == ErrorStrategyAbort && len(batch) > 0 {
		return &PersistenceError{Row: batch[0].n, Err: err}
	}
	return nil
}

// rowFailed counts item as failed and records the error
func (p *importPipeline) rowFailed(item pendingRow, err *PersistenceError) {
	p.recordError(persistError(item, err.Err))
	p.advance(func(j *ImportJob) { j.FailedRows++ })
}

// revert turns rows that a rollback discarded from successes into failures
func (p *importPipeline) revert(rows []pendingRow) {
	if len(rows) == 0 {
		return
	}
	p.mu.Lock()
	p.job.SuccessRows -= len(rows)
	p.job.FailedRows += len(rows)
	p.mu.Unlock()
}

func persistError(item pendingRow, err error) ImportError {
	return ImportError{
		Row:         item.n,
		Code:        model.CodePersist,
		Message:     err.Error(),
		Severity:    model.SeverityError,
		Recoverable: true,
		Raw:         item.row,
	}
}

// recordError appends e to the job and notifies observers
func (p *importPipeline) recordError(e ImportError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.Errors = append(p.job.Errors, e)
	p.notifyLocked(Event{Type: EventRowError, Error: &e})
}

// advance counts one processed row, applies update and emits progress
func (p *importPipeline) advance(update func(*ImportJob)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.ProcessedRows++
	if update != nil {
		update(p.job)
	}
	p.notifyLocked(Event{Type: EventProgress, Progress: p.progressLocked()})
}

func (p *importPipeline) emitProgress() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyLocked(Event{Type: EventProgress, Progress: p.progressLocked()})
}

func (p *importPipeline) progressLocked() Progress {
	j := p.job
	elapsed := time.Since(p.started)
	pr := Progress{
		TotalRows:     j.TotalRows,
		ProcessedRows: j.ProcessedRows,
		SuccessRows:   j.SuccessRows,
		FailedRows:    j.FailedRows,
		SkippedRows:   j.SkippedRows,
		Elapsed:       elapsed,
	}
	if j.TotalRows > 0 {
		pr.Percent = float64(j.ProcessedRows) / float64(j.TotalRows) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		pr.Throughput = float64(j.SuccessRows) / secs
	}
	return pr
}

func (p *importPipeline) setStatus(status JobStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job.Status = status
	p.notifyLocked(Event{Type: EventStatusChanged})
}

func (p *importPipeline) emit(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyLocked(e)
}

// notifyLocked fills the common event fields and delivers e. p.mu must be held.
func (p *importPipeline) notifyLocked(e Event) {
	e.JobID = p.job.ID
	e.Status = p.job.Status
	e.Time = time.Now()
	p.opts.Observer.Notify(e)
}

// abort ends the job failed with err
func (p *importPipeline) abort(err error) (*ImportJob, error) {
	return p.finish(err)
}

// finish sets the final status and summary. A nil err ends the job completed or partial.
func (p *importPipeline) finish(err error) (*ImportJob, error) {
	p.mu.Lock()
	j := p.job
	switch {
	case err != nil:
		j.Status = model.StatusFailed
	case len(j.Errors) > 0:
		j.Status = model.StatusPartial
	default:
		j.Status = model.StatusCompleted
	}
	j.FinishedAt = time.Now()
	if secs := j.FinishedAt.Sub(j.StartedAt).Seconds(); secs > 0 {
		j.Throughput = float64(j.SuccessRows) / secs
	}
	j.Summary = fmt.Sprintf("%s: %d of %d rows imported, %d failed, %d invalid, %d skipped",
		j.Status, j.SuccessRows, j.TotalRows, j.FailedRows, j.InvalidRows, j.SkippedRows)
	p.notifyLocked(Event{Type: EventStatusChanged})
	p.notifyLocked(Event{Type: EventCompleted, Progress: p.progressLocked()})
	p.mu.Unlock()

	attrs := []any{
		slog.String("status", string(j.Status)),
		slog.Int("total", j.TotalRows),
		slog.Int("success", j.SuccessRows),
		slog.Int("failed", j.FailedRows),
		slog.Int("skipped", j.SkippedRows),
		slog.Duration("duration", j.Duration()),
	}
	if err != nil {
		p.logger.Error("import failed", append(attrs, slog.Any("error", err))...)
		return j, wrapJobError(p.ectx, err)
	}
	p.logger.Info("import finished", attrs...)
	return j, nil
}

// wrapJobError adds the error context. Configuration errors are returned unchanged.
func wrapJobError(ectx *ErrorContext, err error) error {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return ectx.Error(err)
}
