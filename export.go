package rowflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nao1215/rowflow/domain/model"
)

// Export streams the records of src matching opts.Filter to w, page by page.
//
// The record count is queried first so that count-aware formats can announce it and progress
// can report a percentage. Pages are requested with increasing offsets until a short or empty
// page arrives. w is flushed, and closed when it implements io.Closer, on every exit path.
// The returned task is never nil.
func Export(ctx context.Context, src RecordSource, w io.Writer, opts ExportOptions) (task *ExportTask, err error) {
	e := newExporter(opts)
	defer func() {
		task, err = e.finish(err)
	}()

	closeOut := func() error {
		if c, ok := w.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}

	if err := e.opts.Validate(); err != nil {
		return nil, errors.Join(err, closeOut())
	}
	if src == nil {
		return nil, errors.Join(configErr("Source", "a record source is required"), closeOut())
	}

	total, err := src.Count(ctx, e.opts.Filter)
	if err != nil {
		e.ectx.WithDetails("count")
		return nil, errors.Join(err, closeOut())
	}
	e.task.TotalRows = int(total)
	e.setStatus(model.StatusProcessing)

	counter := &countingWriter{w: w}
	out, closeEncoder, err := NewCompressionHandler(e.opts.Compression).CreateWriter(counter)
	if err != nil {
		return nil, errors.Join(err, closeOut())
	}

	writerCfg := e.opts.Writer
	rows, err := NewRowWriter(e.opts.Format, out, writerCfg, int(total))
	if err != nil {
		return nil, errors.Join(err, closeEncoder(), closeOut())
	}

	streamErr := e.stream(ctx, src, rows)
	closeErr := errors.Join(rows.Close(), closeEncoder(), closeOut())
	e.task.BytesWritten = counter.n
	return nil, errors.Join(streamErr, closeErr)
}

// exporter carries the state of one export task
type exporter struct {
	opts    ExportOptions
	logger  *slog.Logger
	ectx    *ErrorContext
	task    *ExportTask
	limiter *rate.Limiter
	memory  *MemoryLimit
}

func newExporter(opts ExportOptions) *exporter {
	opts = opts.normalize()
	id := opts.TaskID
	if id == "" {
		id = uuid.NewString()
	}

	e := &exporter{
		opts:   opts,
		logger: opts.Logger.With("component", "export", "task_id", id),
		ectx:   NewErrorContext("export", id).WithFormat(opts.Format.String()),
		task: &ExportTask{
			ID:          id,
			Format:      opts.Format.String(),
			Compression: opts.Compression.String(),
			Status:      model.StatusPending,
			Columns:     append([]string(nil), opts.Columns...),
			StartedAt:   time.Now(),
		},
	}
	e.memory = NewMemoryLimit(opts.MemoryLimitMB)
	if opts.PagesPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.PagesPerSecond), 1)
	}
	e.notify(Event{Type: EventCreated})
	return e
}

// stream copies every page of src into rows
func (e *exporter) stream(ctx context.Context, src RecordSource, rows RowWriter) error {
	e.logger.Info("export started", slog.Int("total", e.task.TotalRows))

	for offset, pageNo := 0, 0; ; pageNo++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := e.memory.ChunkSize(e.opts.ChunkSize)
		if limit < e.opts.ChunkSize {
			e.logger.Warn("memory usage is high, page size reduced", slog.Int("page_size", limit))
		}
		page, err := src.FindPage(ctx, e.opts.Filter, limit, offset)
		if err != nil {
			e.ectx.WithDetails("fetching page")
			return err
		}
		e.logger.Debug("page fetched", slog.Int("page", pageNo), slog.Int("offset", offset), slog.Int("rows", len(page)))

		for _, record := range page {
			if len(e.task.Columns) == 0 {
				e.task.Columns = record.Keys()
			}
			if err := rows.Write(record.Project(e.task.Columns)); err != nil {
				e.ectx.WithDetails("writing row")
				return err
			}
			e.task.ExportedRows++
			e.notify(Event{Type: EventProgress, Progress: e.progress()})
		}

		if len(page) < limit {
			return nil
		}
		offset += len(page)
	}
}

func (e *exporter) progress() Progress {
	elapsed := time.Since(e.task.StartedAt)
	p := Progress{
		TotalRows:     e.task.TotalRows,
		ProcessedRows: e.task.ExportedRows,
		SuccessRows:   e.task.ExportedRows,
		Elapsed:       elapsed,
	}
	if e.task.TotalRows > 0 {
		p.Percent = float64(e.task.ExportedRows) / float64(e.task.TotalRows) * 100
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.Throughput = float64(e.task.ExportedRows) / secs
	}
	return p
}

func (e *exporter) setStatus(status JobStatus) {
	e.task.Status = status
	e.notify(Event{Type: EventStatusChanged})
}

func (e *exporter) notify(ev Event) {
	ev.JobID = e.task.ID
	ev.Status = e.task.Status
	ev.Time = time.Now()
	e.opts.Observer.Notify(ev)
}

// finish sets the final status and wraps err with the task context
func (e *exporter) finish(err error) (*ExportTask, error) {
	t := e.task
	t.FinishedAt = time.Now()
	if secs := t.FinishedAt.Sub(t.StartedAt).Seconds(); secs > 0 {
		t.Throughput = float64(t.ExportedRows) / secs
	}
	if err != nil {
		t.Status = model.StatusFailed
	} else {
		t.Status = model.StatusCompleted
	}
	e.notify(Event{Type: EventStatusChanged})
	e.notify(Event{Type: EventCompleted, Progress: e.progress()})

	attrs := []any{
		slog.String("status", string(t.Status)),
		slog.Int("exported", t.ExportedRows),
		slog.Int64("bytes", t.BytesWritten),
		slog.Duration("duration", t.Duration()),
	}
	if err != nil {
		e.logger.Error("export failed", append(attrs, slog.Any("error", err))...)
		return t, wrapJobError(e.ectx, err)
	}
	e.logger.Info("export finished", attrs...)
	return t, nil
}

// countingWriter counts the bytes written through it
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
