// Package oracles holds SQL invariants checked while the stress test
// runs. An oracle fails when its query returns any row.
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

// Live holds invariants that must hold at every committed state.
func Live() []Oracle {
	return []Oracle{
		{
			Name: "flag_without_acceptance",
			SQL: `SELECT p.user_id FROM partner_profiles p
                  LEFT JOIN agreement_acceptances a ON a.user_id = p.user_id
                  WHERE (p.agreement_accepted OR p.agreement_accepted_at IS NOT NULL) AND a.id IS NULL`,
		},
		{
			Name: "acceptance_without_outbox",
			SQL: `SELECT a.user_id FROM agreement_acceptances a
                  WHERE NOT EXISTS (
                      SELECT 1 FROM outbox o
                      WHERE o.topic = 'partner.agreement_accepted'
                        AND o.payload->>'user_id' = a.user_id::text)`,
		},
		{
			Name: "acceptance_enqueued_twice",
			SQL: `SELECT payload->>'user_id', COUNT(*) FROM outbox
                  WHERE topic = 'partner.agreement_accepted'
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "processed_but_not_projected",
			SQL: `SELECT o.id, o.payload->>'user_id' FROM outbox o
                  JOIN partner_profiles p ON p.user_id::text = o.payload->>'user_id'
                  WHERE o.topic = 'partner.agreement_accepted'
                    AND o.status = 'processed'
                    AND NOT p.agreement_accepted`,
		},
		{
			Name: "accepted_at_drift",
			SQL: `SELECT p.user_id, p.agreement_accepted_at, a.accepted_at FROM partner_profiles p
                  JOIN agreement_acceptances a ON a.user_id = p.user_id
                  WHERE p.agreement_accepted_at IS DISTINCT FROM a.accepted_at
                    AND p.agreement_accepted`,
		},
		{
			Name: "outbox_parked",
			SQL:  `SELECT id, last_error FROM outbox WHERE status = 'failed'`,
		},
		{
			Name: "lead_created_event",
			SQL: `SELECT l.id, COUNT(e.id) FROM leads l
                  LEFT JOIN lead_events e ON e.lead_id = l.id AND e.type = 'LEAD_CREATED'
                  GROUP BY l.id HAVING COUNT(e.id) <> 1`,
		},
		{
			Name: "lead_status_trail",
			SQL: `SELECT l.id, l.status, last.payload->>'next_status' FROM leads l
                  JOIN LATERAL (
                      SELECT payload FROM lead_events e
                      WHERE e.lead_id = l.id AND e.type = 'LEAD_STATUS_CHANGED'
                      ORDER BY e.id DESC LIMIT 1) last ON true
                  WHERE last.payload->>'next_status' <> l.status`,
		},
		{
			Name: "remark_without_event",
			SQL: `SELECT r.id FROM lead_remarks r
                  WHERE NOT EXISTS (
                      SELECT 1 FROM lead_events e
                      WHERE e.lead_id = r.lead_id
                        AND e.type = 'LEAD_REMARK_ADDED'
                        AND e.payload->>'remark_id' = r.id::text)`,
		},
	}
}

// Settled holds invariants that must hold once the load stops and the
// outbox has been drained.
func Settled() []Oracle {
	return []Oracle{
		{
			Name: "outbox_pending",
			SQL:  `SELECT id, created_at FROM outbox WHERE status = 'pending'`,
		},
		{
			Name: "acceptance_not_projected",
			SQL: `SELECT a.user_id FROM agreement_acceptances a
                  JOIN partner_profiles p ON p.user_id = a.user_id
                  WHERE NOT p.agreement_accepted`,
		},
	}
}

// Run executes the oracles in order and returns the first failure (name
// and sample row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, oracles []Oracle) (string, string, error) {
	for _, o := range oracles {
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
			return o.Name, fmt.Sprint(vals), nil
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
