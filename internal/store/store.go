// Package store persists job records behind a small interface so the
// supervisor runs unchanged on memory, redis or sqlite.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelsmith/api/internal/model"
)

var ErrNotFound = errors.New("store: job not found")

// MutateFunc changes a job in place. Returning an error aborts the update
// and nothing is written.
type MutateFunc func(job *model.Job) error

// JobStore is the job-status store. Update is an atomic read-modify-write of
// one record.
type JobStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Put(ctx context.Context, job *model.Job) error
	Update(ctx context.Context, id string, fn MutateFunc) (*model.Job, error)
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}
