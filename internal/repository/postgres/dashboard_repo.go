package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// DashboardRepo собирает сводку для операторов из trust_records и action_records.
type DashboardRepo struct {
	db *sql.DB
}

func NewDashboardRepo(db *sql.DB) *DashboardRepo {
	return &DashboardRepo{db: db}
}

func (r *DashboardRepo) Dashboard(ctx context.Context) (*domain.Dashboard, error) {
	d := &domain.Dashboard{Hourly: make([]domain.ActivityPoint, 0)}

	// 1. Состояние доверия
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE frozen),
			COALESCE(AVG(level), 0)
		FROM trust_records`).Scan(&d.Trust.Principals, &d.Trust.FrozenPrincipals, &d.Trust.AverageLevel)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to aggregate trust records: %w", err)
	}

	// 2. Вызовы за последние 60 минут, P95 через PERCENTILE_CONT
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT success),
			COUNT(*) FILTER (WHERE error_kind IN ('unauthenticated', 'insufficient_trust')),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM action_records
		WHERE timestamp > NOW() - INTERVAL '60 minutes'`).Scan(
		&d.Activity.TotalActions,
		&d.Activity.FailedActions,
		&d.Activity.DeniedActions,
		&d.Quality.P95Latency,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to aggregate action records: %w", err)
	}
	d.Activity.RPS = float64(d.Activity.TotalActions) / 3600

	// 3. Активность по часам за сутки
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc('hour', timestamp) AS hour, COUNT(*)
		FROM action_records
		WHERE timestamp > NOW() - INTERVAL '24 hours'
		GROUP BY hour
		ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query hourly activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			hour  time.Time
			count int64
		)
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan hourly activity: %w", err)
		}
		d.Hourly = append(d.Hourly, domain.ActivityPoint{Hour: hour.UTC().Format(time.RFC3339), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return d, nil
}
