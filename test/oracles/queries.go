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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_pending_iff_unassigned",
			SQL: `SELECT id, status, assigned_agent_id FROM inspection_requests
                  WHERE (status = 'pending' AND assigned_agent_id IS NOT NULL)
                     OR (status = 'assigned' AND assigned_agent_id IS NULL)`,
		},
		{
			Name: "O2_paid_has_receipt",
			SQL: `SELECT id FROM inspection_requests
                  WHERE payment_received = true AND receipt_number IS NULL`,
		},
		{
			Name: "O3_code_shape",
			SQL: `SELECT id, receipt_verification_code FROM inspection_requests
                  WHERE receipt_verification_code IS NOT NULL
                    AND receipt_verification_code !~ '^[A-Z0-9]{8}$'`,
		},
		{
			Name: "O4_issued_iff_coded",
			SQL: `SELECT id FROM inspection_requests
                  WHERE (receipt_verification_code IS NULL) <> (receipt_issued_at IS NULL)`,
		},
		{
			Name: "O5_tracking_shape",
			SQL: `SELECT id, tracking_id FROM inspection_requests
                  WHERE tracking_id !~ '^STZ-[A-Z0-9]{10}$'`,
		},
		{
			Name: "O6_status_valid",
			SQL: `SELECT id, status FROM inspection_requests
                  WHERE status NOT IN ('pending','assigned','in_progress','completed','cancelled','archived')`,
		},
		{
			Name: "O7_outbox_stale",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_code_unique",
			SQL: `SELECT receipt_verification_code, COUNT(*) FROM inspection_requests
                  WHERE receipt_verification_code IS NOT NULL
                  GROUP BY receipt_verification_code HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
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
