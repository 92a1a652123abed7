package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// TrustReader — чтение состояния доверия (ledger.Ledger).
type TrustReader interface {
	Snapshot(ctx context.Context, principalID string) (*domain.TrustRecord, error)
}

type TrustService struct {
	ledger TrustReader
}

func NewTrustService(l TrustReader) *TrustService {
	return &TrustService{ledger: l}
}

// Status возвращает публичное представление записи: без служебного горизонта идемпотентности.
func (s *TrustService) Status(ctx context.Context, principalID string) (*domain.TrustRecord, error) {
	rec, err := s.ledger.Snapshot(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("trust_service: %w", err)
	}
	rec.AppliedIDs = nil
	return rec, nil
}
