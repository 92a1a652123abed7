package domain

// Dashboard — сводка для операторов: нагрузка, состояние доверия, задержки.
type Dashboard struct {
	Activity ActivityStats   `json:"activity"` // Вызовы через конверт за последний час
	Trust    TrustStats      `json:"trust"`
	Quality  QualityStats    `json:"quality"`
	Hourly   []ActivityPoint `json:"hourly_activity"`
}

type ActivityStats struct {
	RPS           float64 `json:"rps"`
	TotalActions  int64   `json:"total_actions"`
	FailedActions int64   `json:"failed_actions"`
	DeniedActions int64   `json:"denied_actions"` // Отказ на шагах auth или trust
}

type TrustStats struct {
	Principals       int64   `json:"principals"`
	FrozenPrincipals int64   `json:"frozen_principals"`
	AverageLevel     float64 `json:"average_level"`
}

type QualityStats struct {
	P95Latency float64 `json:"p95_latency_ms"`
}

type ActivityPoint struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}
