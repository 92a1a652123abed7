package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// TrustRepo — долговременное хранилище TrustRecord (ledger.Store).
// Коллекции лежат в JSONB: запись читается и пишется целиком под блокировкой принципала в леджере.
type TrustRepo struct {
	db *sql.DB
}

func NewTrustRepo(db *sql.DB) *TrustRepo {
	return &TrustRepo{db: db}
}

const trustColumns = `principal_id, total_score, level, badges, recent_events, event_counts, applied_ids,
	frozen, freeze_reason, frozen_at, reviewed, created_at, updated_at`

// Load возвращает (nil, nil), если принципал еще не встречался.
func (r *TrustRepo) Load(ctx context.Context, principalID string) (*domain.TrustRecord, error) {
	query := `SELECT ` + trustColumns + ` FROM trust_records WHERE principal_id = $1`

	var (
		rec                                domain.TrustRecord
		badges, events, counts, appliedIDs []byte
		frozenAt                           sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, principalID).Scan(
		&rec.PrincipalID, &rec.TotalScore, &rec.Level,
		&badges, &events, &counts, &appliedIDs,
		&rec.Frozen, &rec.FreezeReason, &frozenAt, &rec.Reviewed,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to load trust record %s: %w", principalID, err)
	}

	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"badges", badges, &rec.Badges},
		{"recent_events", events, &rec.RecentEvents},
		{"event_counts", counts, &rec.EventCounts},
		{"applied_ids", appliedIDs, &rec.AppliedIDs},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("postgres: decode %s of %s: %w", col.name, principalID, err)
		}
	}
	if rec.Badges == nil {
		rec.Badges = []string{}
	}
	if rec.RecentEvents == nil {
		rec.RecentEvents = []domain.Event{}
	}
	if rec.EventCounts == nil {
		rec.EventCounts = make(map[string]int64)
	}
	if frozenAt.Valid {
		t := frozenAt.Time
		rec.FrozenAt = &t
	}
	return &rec, nil
}

// Save — upsert всей записи.
func (r *TrustRepo) Save(ctx context.Context, rec *domain.TrustRecord) error {
	badges, err := json.Marshal(nonNil(rec.Badges))
	if err != nil {
		return fmt.Errorf("postgres: encode badges: %w", err)
	}
	events, err := json.Marshal(rec.RecentEvents)
	if err != nil {
		return fmt.Errorf("postgres: encode recent events: %w", err)
	}
	counts, err := json.Marshal(rec.EventCounts)
	if err != nil {
		return fmt.Errorf("postgres: encode event counts: %w", err)
	}
	applied, err := json.Marshal(nonNil(rec.AppliedIDs))
	if err != nil {
		return fmt.Errorf("postgres: encode applied ids: %w", err)
	}

	var frozenAt sql.NullTime
	if rec.FrozenAt != nil {
		frozenAt = sql.NullTime{Time: *rec.FrozenAt, Valid: true}
	}

	query := `
		INSERT INTO trust_records (` + trustColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (principal_id) DO UPDATE SET
			total_score   = EXCLUDED.total_score,
			level         = EXCLUDED.level,
			badges        = EXCLUDED.badges,
			recent_events = EXCLUDED.recent_events,
			event_counts  = EXCLUDED.event_counts,
			applied_ids   = EXCLUDED.applied_ids,
			frozen        = EXCLUDED.frozen,
			freeze_reason = EXCLUDED.freeze_reason,
			frozen_at     = EXCLUDED.frozen_at,
			reviewed      = EXCLUDED.reviewed,
			updated_at    = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		rec.PrincipalID, rec.TotalScore, rec.Level,
		badges, events, counts, applied,
		rec.Frozen, rec.FreezeReason, frozenAt, rec.Reviewed,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save trust record %s: %w", rec.PrincipalID, err)
	}
	return nil
}

// FrozenPrincipals — источник истины для прогрева кэша заморозок при старте.
func (r *TrustRepo) FrozenPrincipals(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT principal_id FROM trust_records WHERE frozen ORDER BY principal_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch frozen principals: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan principal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ids, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
