package domain

// Requirement — требования к вызову действия. Проверяются конвертом до диспетчеризации.
type Requirement struct {
	Anonymous     bool `json:"anonymous" mapstructure:"anonymous"` // Разрешен вызов без идентичности
	MinTrustLevel int  `json:"min_trust_level" mapstructure:"min_trust_level"`
}

// Merge объединяет требования: берется более строгое из двух.
func (r Requirement) Merge(other Requirement) Requirement {
	out := r
	if other.MinTrustLevel > out.MinTrustLevel {
		out.MinTrustLevel = other.MinTrustLevel
	}
	// Анонимность допускается, только если ее разрешают обе стороны
	out.Anonymous = r.Anonymous && other.Anonymous
	return out
}

// PolicyRule — строка таблицы политик из конфигурации. Actor "*" действует для всех акторов.
type PolicyRule struct {
	Actor         string `json:"actor" mapstructure:"actor"`
	Action        string `json:"action" mapstructure:"action"`
	MinTrustLevel int    `json:"min_trust_level" mapstructure:"min_trust_level"`
	Anonymous     bool   `json:"anonymous" mapstructure:"anonymous"`
}
