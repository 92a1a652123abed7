package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/trustmesh/internal/audit"
)

// AuditService — чтение журнала действий. Источник: Postgres или журнал в памяти.
type AuditService struct {
	reader audit.Reader
}

func NewAuditService(reader audit.Reader) *AuditService {
	return &AuditService{reader: reader}
}

// FetchRecords запрашивает записи с фильтрацией. Логика фильтра инкапсулирована в источнике.
func (s *AuditService) FetchRecords(ctx context.Context, f audit.Filter) ([]audit.ActionRecord, error) {
	recs, err := s.reader.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch records: %w", err)
	}
	return recs, nil
}
