// Package transfer tracks push and pull progress and implements the bounded
// head preview.
package transfer

import (
	"github.com/google/uuid"
)

// Direction of a transfer relative to the device.
type Direction int

const (
	Push Direction = iota
	Pull
)

func (d Direction) String() string {
	if d == Pull {
		return "pull"
	}
	return "push"
}

// Status of a transfer.
type Status int

const (
	Active Status = iota
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "active"
	}
}

// Task is one push or pull.
type Task struct {
	ID        string
	Direction Direction
	Path      string
	// Total is the expected size; negative when unknown.
	Total  int64
	Sent   int64
	Status Status
}

// NewTask creates an Active task with a fresh ID.
func NewTask(dir Direction, path string, total int64) *Task {
	if total < 0 {
		total = -1
	}
	return &Task{
		ID:        uuid.NewString(),
		Direction: dir,
		Path:      path,
		Total:     total,
		Status:    Active,
	}
}

// TotalKnown reports whether Total carries a real size.
func (t *Task) TotalKnown() bool { return t.Total >= 0 }

// Progress is an immutable snapshot handed to observers.
type Progress struct {
	TaskID     string
	Direction  Direction
	Path       string
	Sent       int64
	Total      int64
	TotalKnown bool
	// Fraction is meaningful only when TotalKnown.
	Fraction float64
	Status   Status
	Err      error
	// Digest is the xxhash64 of the transferred bytes, set once Done.
	Digest uint64
}
