package transfer

import (
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Tracker is the only writer of a Task. Fraction never goes backwards and is
// capped at 1.0.
type Tracker struct {
	mu       sync.Mutex
	task     *Task
	fraction float64
	digest   *xxhash.Digest
	sum      uint64
	err      error
	onUpdate func(Progress)
}

// NewTracker starts tracking task. onUpdate may be nil.
func NewTracker(task *Task, onUpdate func(Progress)) *Tracker {
	return &Tracker{task: task, digest: xxhash.New(), onUpdate: onUpdate}
}

func (t *Tracker) Task() Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.task
}

// Add advances the byte counter by n.
func (t *Tracker) Add(n int64) {
	t.mu.Lock()
	t.advance(t.task.Sent + n)
	p := t.snapshot()
	t.mu.Unlock()
	t.notify(p)
}

// Set moves the byte counter to the cumulative value sent. Smaller values
// than already seen are ignored.
func (t *Tracker) Set(sent int64) {
	t.mu.Lock()
	t.advance(sent)
	p := t.snapshot()
	t.mu.Unlock()
	t.notify(p)
}

func (t *Tracker) advance(sent int64) {
	if t.task.Status != Active || sent < t.task.Sent {
		return
	}
	t.task.Sent = sent
	if !t.task.TotalKnown() {
		return
	}
	f := 1.0
	if t.task.Total > 0 {
		f = float64(sent) / float64(t.task.Total)
	}
	if f > 1 {
		f = 1
	}
	if f > t.fraction {
		t.fraction = f
	}
}

// Complete marks the task Done. With a known total the fraction becomes
// exactly 1.0.
func (t *Tracker) Complete() Progress {
	t.mu.Lock()
	if t.task.Status == Active {
		t.task.Status = Done
		if t.task.TotalKnown() {
			t.fraction = 1.0
		}
		t.sum = t.digest.Sum64()
	}
	p := t.snapshot()
	t.mu.Unlock()
	t.notify(p)
	return p
}

// Fail marks the task Failed. The fraction stays where it was.
func (t *Tracker) Fail(err error) Progress {
	t.mu.Lock()
	if t.task.Status == Active {
		t.task.Status = Failed
		t.err = err
	}
	p := t.snapshot()
	t.mu.Unlock()
	t.notify(p)
	return p
}

// Progress returns the current snapshot.
func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Digest is the xxhash64 of every byte hashed so far.
func (t *Tracker) Digest() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.task.Status == Done {
		return t.sum
	}
	return t.digest.Sum64()
}

// Hash returns a writer that feeds the digest without touching the counter.
// Pushes tee their source into it.
func (t *Tracker) Hash() io.Writer {
	return hashWriter{t}
}

// Writer wraps dst so that every byte written is hashed and counted. Pulls
// copy into it.
func (t *Tracker) Writer(dst io.Writer) io.Writer {
	return &countingWriter{t: t, dst: dst}
}

func (t *Tracker) snapshot() Progress {
	return Progress{
		TaskID:     t.task.ID,
		Direction:  t.task.Direction,
		Path:       t.task.Path,
		Sent:       t.task.Sent,
		Total:      t.task.Total,
		TotalKnown: t.task.TotalKnown(),
		Fraction:   t.fraction,
		Status:     t.task.Status,
		Err:        t.err,
		Digest:     t.sum,
	}
}

func (t *Tracker) notify(p Progress) {
	if t.onUpdate != nil {
		t.onUpdate(p)
	}
}

type hashWriter struct{ t *Tracker }

func (h hashWriter) Write(p []byte) (int, error) {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	return h.t.digest.Write(p)
}

type countingWriter struct {
	t   *Tracker
	dst io.Writer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.dst.Write(p)
	if n > 0 {
		_, _ = c.t.Hash().Write(p[:n])
		c.t.Add(int64(n))
	}
	return n, err
}
