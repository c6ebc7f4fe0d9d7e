// Package store is the public operation surface. Every mutating call runs
// inside one retried transaction: it computes cascade effects through the
// relationship graph, rewrites affected marker text through the sync
// coordinator, and records one command (or composite) in the undo log
// before committing.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Joseda-hg/trellis/internal/db"
	"github.com/Joseda-hg/trellis/internal/graph"
	"github.com/Joseda-hg/trellis/internal/metadata"
	"github.com/Joseda-hg/trellis/internal/model"
	syncer "github.com/Joseda-hg/trellis/internal/sync"
	"github.com/Joseda-hg/trellis/internal/undo"
)

type Options struct {
	UndoDepth   int
	Retry       db.RetryPolicy
	DueResolver metadata.DueResolver
}

type Store struct {
	DB      *sql.DB
	Queries *db.Queries

	codec *metadata.Codec
	coord *syncer.Coordinator
	log   *undo.Log
	retry db.RetryPolicy

	// Overridable in tests.
	now   func() time.Time
	newID func() string
}

func NewStore(sqlDB *sql.DB) *Store {
	return NewStoreWith(sqlDB, Options{})
}

func NewStoreWith(sqlDB *sql.DB, opts Options) *Store {
	if opts.Retry.Attempts == 0 {
		opts.Retry = db.DefaultRetryPolicy()
	}
	codec := metadata.NewCodec(opts.DueResolver)
	return &Store{
		DB:      sqlDB,
		Queries: db.New(sqlDB),
		codec:   codec,
		coord:   syncer.New(codec),
		log:     undo.NewLog(opts.UndoDepth),
		retry:   opts.Retry,
		now:     time.Now,
		newID:   shortID,
	}
}

// shortID derives a short fixed-width unique ID from a v4 UUID. Eight hex
// chars keeps markers typeable; inserts collision-check anyway.
func shortID() string {
	u := uuid.New()
	return hex.EncodeToString(u[0:4])
}

// mutate is the shape of every public mutating operation: one transaction,
// retried on lock contention, with the fingerprint refreshed on commit.
func (s *Store) mutate(ctx context.Context, fn func(q *db.Queries, g *graph.Graph) error) error {
	return db.RunTx(ctx, s.DB, s.retry, func(tx *sql.Tx) error {
		q := s.Queries.WithTx(tx)
		if err := fn(q, graph.New(q)); err != nil {
			return err
		}
		return s.log.UpdateFingerprint(ctx, q)
	})
}

func (s *Store) freshID(ctx context.Context, q *db.Queries) (string, error) {
	for i := 0; i < 5; i++ {
		id := s.newID()
		exists, err := q.TaskExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique task id")
}

// ensureList creates the target list on demand, recording the creation so
// it participates in the operation's composite.
func (s *Store) ensureList(ctx context.Context, q *db.Queries, name string, batch *undo.Batch) error {
	if name == "" {
		return fmt.Errorf("%w: list name is empty", model.ErrValidation)
	}
	_, err := q.GetList(ctx, name)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	sortOrder, err := q.NextListSortOrder(ctx)
	if err != nil {
		return err
	}
	list := model.List{Name: name, SortOrder: sortOrder}
	if err := q.InsertList(ctx, list); err != nil {
		return err
	}
	batch.Add(undo.Command{
		Kind:     undo.KindCreateList,
		ListName: name,
		Snapshot: &undo.Snapshot{Lists: []model.List{list}},
	})
	return nil
}

// --- read surface ---

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	return s.Queries.GetTask(ctx, id)
}

func (s *Store) ListTasks(ctx context.Context, listName string, includeTrashed bool) ([]model.Task, error) {
	return s.Queries.ListTasks(ctx, listName, includeTrashed)
}

func (s *Store) ListLists(ctx context.Context) ([]model.List, error) {
	return s.Queries.ListLists(ctx)
}

func (s *Store) GetRelated(ctx context.Context, id string) ([]string, error) {
	return s.Queries.RelatedTo(ctx, id)
}

func (s *Store) GetBlockers(ctx context.Context, id string) ([]string, error) {
	return s.Queries.BlockersOf(ctx, id)
}

func (s *Store) GetBlocked(ctx context.Context, id string) ([]string, error) {
	return s.Queries.BlockedBy(ctx, id)
}

func (s *Store) GetDescendants(ctx context.Context, id string) ([]model.Task, error) {
	return graph.New(s.Queries).Descendants(ctx, id)
}

// DisplayDescription strips the marker line for presentation.
func (s *Store) DisplayDescription(task model.Task) string {
	return s.codec.GetDisplayDescription(task.Description)
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
func isNoChange(err error) bool { return errors.Is(err, model.ErrNoChange) }
