package rowflow

import (
	"context"
	"errors"
	"sync"
)

var errRejected = errors.New("rejected by sink")

// memSink is an in-memory RecordSink, TxBeginner and RecordSource.
// reject decides which rows the sink refuses.
type memSink struct {
	mu       sync.Mutex
	rows     []Row
	reject   func(Row) bool
	creates  int
	upserts  int
	commits  int
	rollback int
	failPage error
	pages    []pageCall
}

type pageCall struct {
	limit, offset int
}

func (s *memSink) Create(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.reject != nil && s.reject(row) {
		return errRejected
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) Upsert(_ context.Context, row Row, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.reject != nil && s.reject(row) {
		return errRejected
	}
	for i, existing := range s.rows {
		if sameKeys(existing, row, keys) {
			s.rows[i] = row
			return nil
		}
	}
	s.rows = append(s.rows, row)
	return nil
}

func sameKeys(a, b Row, keys []string) bool {
	for _, k := range keys {
		av, _ := a.Get(k)
		bv, _ := b.Get(k)
		if !av.Equal(bv) {
			return false
		}
	}
	return true
}

func (s *memSink) Count(_ context.Context, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if filter.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (s *memSink) FindPage(_ context.Context, filter Filter, limit, offset int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, pageCall{limit: limit, offset: offset})
	if s.failPage != nil {
		return nil, s.failPage
	}
	var matched []Row
	for _, r := range s.rows {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	return matched[offset:min(offset+limit, len(matched))], nil
}

func (s *memSink) stored() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

// txSink adds transactions to memSink. Writes are buffered until Commit.
type txSink struct {
	memSink
	failCommit bool
}

func (s *txSink) Begin(context.Context) (SinkTx, error) {
	return &memTx{sink: s}, nil
}

type memTx struct {
	sink    *txSink
	pending []Row
	done    bool
}

func (t *memTx) Create(_ context.Context, row Row) error {
	if t.sink.reject != nil && t.sink.reject(row) {
		return errRejected
	}
	t.pending = append(t.pending, row)
	return nil
}

func (t *memTx) Upsert(ctx context.Context, row Row, _ []string) error {
	return t.Create(ctx, row)
}

func (t *memTx) Commit(context.Context) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.done = true
	if t.sink.failCommit {
		return errors.New("commit refused")
	}
	t.sink.commits++
	t.sink.rows = append(t.sink.rows, t.pending...)
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	if !t.done {
		t.sink.rollback++
	}
	t.done = true
	t.pending = nil
	return nil
}

// recorder collects every event
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) statuses() []JobStatus {
	var out []JobStatus
	for _, e := range r.ofType(EventStatusChanged) {
		out = append(out, e.Status)
	}
	return out
}

func idOf(row Row) float64 {
	v, _ := row.Get("id")
	n, _ := v.AsNumber()
	return n
}
