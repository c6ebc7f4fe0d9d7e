package undo

import (
	"context"

	"github.com/Joseda-hg/trellis/internal/db"
)

// Batch accumulates the commands of one public operation. A cascading or
// bidirectional-sync operation records several steps; committing the batch
// pushes them as a single composite so they undo together. Replay paths
// simply never open a batch, which is what suppresses recording.
type Batch struct {
	log   *Log
	label string
	cmds  []Command
}

func (l *Log) Begin(label string) *Batch {
	return &Batch{log: l, label: label}
}

func (b *Batch) Add(cmd Command) {
	if b == nil {
		return
	}
	b.cmds = append(b.cmds, cmd)
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.cmds)
}

// Commit pushes the accumulated commands. A single child skips the
// composite wrapper; an empty batch records nothing.
func (b *Batch) Commit(ctx context.Context, q *db.Queries) error {
	if b == nil || len(b.cmds) == 0 {
		return nil
	}
	if len(b.cmds) == 1 {
		cmd := b.cmds[0]
		if cmd.Label == "" {
			cmd.Label = b.label
		}
		return b.log.Record(ctx, q, cmd)
	}
	return b.log.Record(ctx, q, Command{
		Kind:     KindComposite,
		Label:    b.label,
		Children: b.cmds,
	})
}
