package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrSchemaMissing means the leads table has not been migrated.
var ErrSchemaMissing = errors.New("leads table missing, run migrations")

const upsertLead = `INSERT INTO funnel_leads
	(id, name, email, phone, segment, scores, utm, external_id, source_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10)
ON CONFLICT (email) DO UPDATE SET
	name = EXCLUDED.name,
	phone = EXCLUDED.phone,
	segment = EXCLUDED.segment,
	scores = EXCLUDED.scores,
	utm = COALESCE(funnel_leads.utm, EXCLUDED.utm),
	external_id = COALESCE(NULLIF(EXCLUDED.external_id, ''), funnel_leads.external_id),
	updated_at = NOW()`

// PostgresStore keeps one row per email; a resubmission updates the row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Deliver(ctx context.Context, lead Lead) error {
	scores, err := json.Marshal(lead.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	var utmJSON any
	if len(lead.UTM) > 0 {
		raw, err := json.Marshal(lead.UTM)
		if err != nil {
			return fmt.Errorf("marshal utm: %w", err)
		}
		utmJSON = string(raw)
	}

	_, err = s.db.ExecContext(ctx, upsertLead,
		lead.ID, lead.Name, lead.Email, lead.Phone, string(lead.Segment),
		string(scores), utmJSON, lead.ExternalID, lead.SourceURL, lead.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, pqErr.Message)
		}
		return fmt.Errorf("upsert lead %s: %w", lead.ID, err)
	}
	return nil
}

// CountBySegment returns how many leads landed in each segment.
func (s *PostgresStore) CountBySegment(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT segment, COUNT(*) FROM funnel_leads GROUP BY segment`)
	if err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var seg string
		var n int
		if err := rows.Scan(&seg, &n); err != nil {
			return nil, fmt.Errorf("scan lead count: %w", err)
		}
		out[seg] = n
	}
	return out, rows.Err()
}
