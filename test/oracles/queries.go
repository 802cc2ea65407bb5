package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the SQL invariants checked during a stress run. Each query
// selects violating rows; an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_earning_amount_bounds",
			SQL: `SELECT e.id, e.amount, m.amount FROM earnings e
                  JOIN milestones m ON m.id = e.milestone_id
                  WHERE e.amount < 0 OR e.amount > m.amount`,
		},
		{
			Name: "O2_one_earning_per_milestone",
			SQL: `SELECT milestone_id, COUNT(*) FROM earnings
                  GROUP BY milestone_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_disputed_without_record",
			SQL: `SELECT id FROM milestones
                  WHERE status = 'disputed' AND dispute IS NULL`,
		},
		{
			Name: "O4_resolution_amount_bounds",
			SQL: `SELECT id FROM milestones
                  WHERE dispute->'resolution' IS NOT NULL
                    AND ((dispute->'resolution'->>'resolved_amount')::numeric >
                         (dispute->>'requested_amount')::numeric
                      OR (dispute->>'requested_amount')::numeric > amount)`,
		},
		{
			Name: "O5_terminal_without_resolution",
			SQL: `SELECT id, status FROM milestones
                  WHERE status IN ('refunded', 'partially_refunded')
                    AND (dispute IS NULL OR dispute->'resolution' IS NULL)`,
		},
		{
			Name: "O6_partial_earning_consistency",
			SQL: `SELECT m.id FROM milestones m
                  JOIN earnings e ON e.milestone_id = m.id
                  WHERE m.status = 'partially_refunded'
                    AND e.amount + (m.dispute->'resolution'->>'resolved_amount')::numeric <> m.amount`,
		},
		{
			Name: "O7_version_positive",
			SQL:  `SELECT id, version FROM milestones WHERE version < 1`,
		},
		{
			Name: "O8_approved_without_earning",
			SQL: `SELECT m.id FROM milestones m
                  WHERE m.approved_at IS NOT NULL
                    AND NOT EXISTS (SELECT 1 FROM earnings e WHERE e.milestone_id = m.id)`,
		},
		{
			Name: "O9_milestone_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_milestones')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
