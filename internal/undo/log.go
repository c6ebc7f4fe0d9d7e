package undo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/Joseda-hg/trellis/internal/db"
)

const (
	stackUndo = "undo"
	stackRedo = "redo"

	fingerprintKey = "undo_fingerprint"

	// DefaultMaxDepth bounds each stack; the oldest entry is evicted first.
	DefaultMaxDepth = 100
)

// Log manages the two persisted command stacks. It holds no command state of
// its own; everything lives in the undo_history table so short-lived
// processes share one history. All methods run on the caller's transaction.
type Log struct {
	maxDepth int
}

func NewLog(maxDepth int) *Log {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Log{maxDepth: maxDepth}
}

// Record pushes a command onto the undo stack, clears the redo stack, and
// evicts beyond the depth bound. Call after the mutation it describes, in
// the same transaction.
func (l *Log) Record(ctx context.Context, q *db.Queries, cmd Command) error {
	payload, err := Marshal(cmd)
	if err != nil {
		return err
	}
	if err := q.AppendHistory(ctx, stackUndo, payload); err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	if err := q.ClearHistory(ctx, stackRedo); err != nil {
		return err
	}
	return q.EvictHistory(ctx, stackUndo, l.maxDepth)
}

// PopUndo removes and returns the most recent undo entry. The second return
// is false when the stack is empty.
func (l *Log) PopUndo(ctx context.Context, q *db.Queries) (Command, bool, error) {
	return l.pop(ctx, q, stackUndo)
}

// PopRedo removes and returns the most recent redo entry.
func (l *Log) PopRedo(ctx context.Context, q *db.Queries) (Command, bool, error) {
	return l.pop(ctx, q, stackRedo)
}

func (l *Log) pop(ctx context.Context, q *db.Queries, stack string) (Command, bool, error) {
	rows, err := q.LoadHistory(ctx, stack)
	if err != nil {
		return Command{}, false, err
	}
	if len(rows) == 0 {
		return Command{}, false, nil
	}

	newest := rows[len(rows)-1]
	cmd, err := Unmarshal(newest.Payload)
	if err != nil {
		// Schema drift or corruption: replaying is unsafe, so the whole
		// history goes.
		slog.Warn("clearing undo history, stored command unreadable", "error", err)
		if clearErr := q.ClearHistory(ctx, ""); clearErr != nil {
			return Command{}, false, clearErr
		}
		return Command{}, false, nil
	}

	if err := q.DeleteHistoryRow(ctx, newest.ID); err != nil {
		return Command{}, false, err
	}
	return cmd, true, nil
}

// PushRedo stores a command popped from undo after its reverse was applied.
func (l *Log) PushRedo(ctx context.Context, q *db.Queries, cmd Command) error {
	return l.push(ctx, q, stackRedo, cmd)
}

// PushUndo stores a command popped from redo after it was reapplied. Unlike
// Record it leaves the redo stack alone.
func (l *Log) PushUndo(ctx context.Context, q *db.Queries, cmd Command) error {
	return l.push(ctx, q, stackUndo, cmd)
}

func (l *Log) push(ctx context.Context, q *db.Queries, stack string, cmd Command) error {
	payload, err := Marshal(cmd)
	if err != nil {
		return err
	}
	if err := q.AppendHistory(ctx, stack, payload); err != nil {
		return err
	}
	return q.EvictHistory(ctx, stack, l.maxDepth)
}

// List returns the labels of one stack, newest first, for history output.
func (l *Log) List(ctx context.Context, q *db.Queries) (undoLabels, redoLabels []string, err error) {
	for _, stack := range []string{stackUndo, stackRedo} {
		rows, err := q.LoadHistory(ctx, stack)
		if err != nil {
			return nil, nil, err
		}
		labels := make([]string, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			cmd, err := Unmarshal(rows[i].Payload)
			if err != nil {
				labels = append(labels, "(unreadable)")
				continue
			}
			labels = append(labels, cmd.Describe())
		}
		if stack == stackUndo {
			undoLabels = labels
		} else {
			redoLabels = labels
		}
	}
	return undoLabels, redoLabels, nil
}

// UpdateFingerprint stores the digest of the current store state. Call at
// the end of every mutating transaction that touched history.
func (l *Log) UpdateFingerprint(ctx context.Context, q *db.Queries) error {
	fp, err := computeFingerprint(ctx, q)
	if err != nil {
		return err
	}
	return q.SetMeta(ctx, fingerprintKey, fp)
}

// VerifyFingerprint compares the stored digest against the live store. On
// mismatch the history was recorded against different data, so both stacks
// are cleared rather than replayed. Returns true when history survived.
func (l *Log) VerifyFingerprint(ctx context.Context, q *db.Queries) (bool, error) {
	stored, err := q.GetMeta(ctx, fingerprintKey)
	if err != nil {
		return false, err
	}
	if stored == "" {
		return true, nil
	}
	current, err := computeFingerprint(ctx, q)
	if err != nil {
		return false, err
	}
	if stored == current {
		return true, nil
	}

	slog.Warn("undo history fingerprint mismatch, clearing history")
	if err := q.ClearHistory(ctx, ""); err != nil {
		return false, err
	}
	if err := q.SetMeta(ctx, fingerprintKey, current); err != nil {
		return false, err
	}
	return false, nil
}

func computeFingerprint(ctx context.Context, q *db.Queries) (string, error) {
	rows, err := q.CanonicalTaskRows(ctx)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, row := range rows {
		h.Write([]byte(row))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
