package policy

import "github.com/xela07ax/trustmesh/internal/domain"

// Enforcer отдает дополнительные требования к действию, заданные операторами поверх объявленных актором.
type Enforcer interface {
	// Lookup возвращает требование и признак, что для пары actor:action есть правило.
	Lookup(actorID, action string) (domain.Requirement, bool)
}

// Wildcard подходит к любому актору или действию.
const Wildcard = "*"
