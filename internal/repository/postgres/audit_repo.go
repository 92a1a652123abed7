package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/trustmesh/internal/audit"
)

const (
	defaultFetchLimit = 100
	maxFetchLimit     = 1000
)

// AuditRepo — долговременный журнал ActionRecord. Пишется пачками через audit.AgentFS.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const auditColumns = `id, trace_id, request_id, actor_id, principal_id, action, params, counterpart,
	priority, success, error, error_kind, duration_ms, timestamp`

// WriteBatch реализует audit.BatchWriter. Повторная запись пачки не дублирует строки.
func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице action_records
	const numFields = 14
	var sb strings.Builder
	vals := make([]any, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for f := 1; f <= numFields; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+f)
		}
		sb.WriteString(")")

		var params []byte
		if rec.Params != nil {
			var err error
			if params, err = json.Marshal(rec.Params); err != nil {
				return fmt.Errorf("postgres: encode params of %s: %w", rec.ID, err)
			}
		}

		vals = append(vals,
			rec.ID, rec.TraceID, rec.RequestID, rec.ActorID, rec.PrincipalID, rec.Action, params, rec.Counterpart,
			rec.Priority, rec.Success, rec.Error, rec.ErrorKind, rec.DurationMs, rec.Timestamp,
		)
	}

	query := fmt.Sprintf("INSERT INTO action_records (%s) VALUES %s ON CONFLICT (id) DO NOTHING", auditColumns, sb.String())
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch of %d: %w", len(records), err)
	}
	return nil
}

// FetchRecords — выборка с фильтрацией, новые первыми. Реализует audit.Reader.
func (r *AuditRepo) FetchRecords(ctx context.Context, f audit.Filter) ([]audit.ActionRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.RequestID != "" {
		add("request_id = $%d", f.RequestID)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("timestamp < $%d", f.Until)
	}

	query := `SELECT ` + auditColumns + ` FROM action_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit records: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]audit.ActionRecord, 0)
	for rows.Next() {
		var (
			rec    audit.ActionRecord
			params []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.TraceID, &rec.RequestID, &rec.ActorID, &rec.PrincipalID, &rec.Action, &params, &rec.Counterpart,
			&rec.Priority, &rec.Success, &rec.Error, &rec.ErrorKind, &rec.DurationMs, &rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rec.Params); err != nil {
				return nil, fmt.Errorf("postgres: decode params of %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// Query — синоним FetchRecords под интерфейс audit.Reader.
func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.ActionRecord, error) {
	return r.FetchRecords(ctx, f)
}
