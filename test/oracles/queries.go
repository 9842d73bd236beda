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

// All returns the invariants checked against a live database. Each query
// returns rows only when its invariant is broken.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_custody_conservation",
			SQL: `WITH locked AS (
                      SELECT COALESCE(SUM(amount),0) AS v FROM jobs
                      WHERE status IN ('open','accepted','submitted','disputed')),
                  deposits AS (
                      SELECT COALESCE(SUM(client_deposit + reviewer_deposit),0) AS v FROM disputes
                      WHERE NOT resolved),
                  owed AS (
                      SELECT COALESCE(SUM(amount),0) AS v FROM balances)
                  SELECT c.total, l.v AS locked, d.v AS deposits, o.v AS owed
                  FROM custody c, locked l, deposits d, owed o
                  WHERE c.total <> l.v + d.v + o.v`,
		},
		{
			Name: "O2_job_settles_exactly",
			SQL: `SELECT j.id, j.status, j.amount, COALESCE(SUM(c.amount),0) AS credited
                  FROM jobs j
                  LEFT JOIN ledger_credits c ON c.job_id = j.id
                  LEFT JOIN disputes d ON d.job_id = j.id
                  GROUP BY j.id, j.status, j.amount, d.client_deposit, d.reviewer_deposit
                  HAVING (j.status IN ('open','accepted','submitted','disputed') AND COALESCE(SUM(c.amount),0) <> 0)
                      OR (j.status NOT IN ('open','accepted','submitted','disputed')
                          AND COALESCE(SUM(c.amount),0) <>
                              j.amount + COALESCE(d.client_deposit,0) + COALESCE(d.reviewer_deposit,0))`,
		},
		{
			Name: "O3_event_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT stream, seq,
                             ROW_NUMBER() OVER (PARTITION BY stream ORDER BY seq) AS expected
                      FROM escrow_events)
                  SELECT * FROM seqs WHERE seq <> expected`,
		},
		{
			Name: "O4_dispute_matches_job",
			SQL: `SELECT j.id, j.status, d.resolved FROM jobs j
                  LEFT JOIN disputes d ON d.job_id = j.id
                  WHERE (j.status = 'disputed' AND (d.job_id IS NULL OR d.resolved))
                     OR (j.status IN ('resolved_refunded','resolved_split') AND (d.job_id IS NULL OR NOT d.resolved))
                     OR (j.status = 'released' AND d.job_id IS NOT NULL AND NOT d.resolved)
                     OR (j.status NOT IN ('disputed','released','resolved_refunded','resolved_split') AND d.job_id IS NOT NULL)`,
		},
		{
			Name: "O5_votes_from_panel",
			SQL: `SELECT v.* FROM dispute_votes v
                  JOIN disputes d ON d.job_id = v.job_id
                  WHERE v.arbitrator NOT IN (d.arbitrator_1, d.arbitrator_2, d.arbitrator_3)`,
		},
		{
			Name: "O6_outbox_drained",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now()-created_at > interval '2 minutes'`,
		},
		{
			Name: "O7_deadlines_consistent",
			SQL: `SELECT id, status FROM jobs
                  WHERE (status IN ('submitted','released','disputed','resolved_refunded','resolved_split')
                         AND (accept_deadline IS NULL OR report_hash IS NULL OR reviewer IS NULL))
                     OR (status = 'accepted' AND reviewer IS NULL)`,
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
