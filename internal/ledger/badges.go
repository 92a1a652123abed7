package ledger

import (
	"fmt"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// DefaultBadges — встроенный набор достижений.
func DefaultBadges() []domain.Badge {
	return []domain.Badge{
		{ID: "newcomer", Name: "Newcomer", Kind: domain.BadgeByScore, MinScore: 10},
		{ID: "first_gig", Name: "First Gig", Kind: domain.BadgeByEventCount, EventType: "complete_gig", Count: 1},
		{ID: "gig_veteran", Name: "Gig Veteran", Kind: domain.BadgeByEventCount, EventType: "complete_gig", Count: 10},
		{ID: "civic_voice", Name: "Civic Voice", Kind: domain.BadgeByEventCount, EventType: "dao_vote", Count: 10},
		{ID: "mentor", Name: "Mentor", Kind: domain.BadgeByEventCount, EventType: "mentor_session", Count: 5},
		{ID: "trusted", Name: "Trusted Member", Kind: domain.BadgeByScore, MinScore: 500},
		{ID: "pillar", Name: "Community Pillar", Kind: domain.BadgeByScore, MinScore: 2000},
	}
}

func validateBadges(badges []domain.Badge) error {
	seen := make(map[string]struct{}, len(badges))
	for _, b := range badges {
		if b.ID == "" {
			return fmt.Errorf("ledger: badge without id")
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("ledger: duplicate badge %q", b.ID)
		}
		seen[b.ID] = struct{}{}

		switch b.Kind {
		case domain.BadgeByScore:
		case domain.BadgeByEventCount:
			if b.EventType == "" || b.Count <= 0 {
				return fmt.Errorf("ledger: badge %q needs event_type and positive count", b.ID)
			}
		default:
			return fmt.Errorf("ledger: badge %q has unknown kind %q", b.ID, b.Kind)
		}
	}
	return nil
}
