package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/auth"
)

// PGLog writes system-authored collaboration messages to the store. Entries
// are append-only; the author is recorded as the system role, never a user id.
type PGLog struct {
	pool *pgxpool.Pool
}

// NewPGLog wires a pgxpool-backed collaboration log.
func NewPGLog(pool *pgxpool.Pool) *PGLog {
	return &PGLog{pool: pool}
}

// Append inserts one immutable system message for the milestone.
func (l *PGLog) Append(ctx context.Context, milestoneID, messageType, message string) error {
	const insertSQL = `
		INSERT INTO collab_messages (milestone_id, author_role, message_type, message)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := l.pool.Exec(ctx, insertSQL, milestoneID, auth.RoleSystem, messageType, message); err != nil {
		return fmt.Errorf("notify: append collab message: %w", err)
	}
	return nil
}
