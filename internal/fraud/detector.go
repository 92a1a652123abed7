// Package fraud ищет в окне последних событий признаки накрутки доверия.
// Это эвристика, а не доказательство: ложные срабатывания допустимы, заморозка обратима через ревью.
package fraud

import (
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/trustmesh/internal/domain"
	"go.uber.org/zap"
)

const FlagExcessiveActivity = "excessive activity in short timeframe"

// Config — пороги детектора. Настраиваются без передеплоя.
type Config struct {
	VelocityCountThreshold   int           `mapstructure:"velocity_count_threshold"`
	VelocityTimeWindow       time.Duration `mapstructure:"velocity_time_window"`
	RepetitionCountThreshold int           `mapstructure:"repetition_count_threshold"`
}

// DefaultConfig: больше 50 событий за час или больше 20 одинаковых событий в окне.
func DefaultConfig() Config {
	return Config{
		VelocityCountThreshold:   50,
		VelocityTimeWindow:       time.Hour,
		RepetitionCountThreshold: 20,
	}
}

// Verdict — вердикт детектора.
type Verdict struct {
	Suspicious bool
	Flags      []string
}

// Reason склеивает флаги в причину заморозки.
func (v Verdict) Reason() string {
	out := ""
	for i, f := range v.Flags {
		if i > 0 {
			out += "; "
		}
		out += f
	}
	return out
}

type Detector struct {
	cfg    Config
	logger *zap.Logger
}

func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	def := DefaultConfig()
	if cfg.VelocityCountThreshold <= 0 {
		cfg.VelocityCountThreshold = def.VelocityCountThreshold
	}
	if cfg.VelocityTimeWindow <= 0 {
		cfg.VelocityTimeWindow = def.VelocityTimeWindow
	}
	if cfg.RepetitionCountThreshold <= 0 {
		cfg.RepetitionCountThreshold = def.RepetitionCountThreshold
	}
	return &Detector{cfg: cfg, logger: logger.Named("fraud")}
}

// Evaluate проверяет обе эвристики независимо и объединяет их по ИЛИ.
func (d *Detector) Evaluate(principalID string, events []domain.Event) Verdict {
	var v Verdict

	if d.velocityExceeded(events) {
		v.Flags = append(v.Flags, FlagExcessiveActivity)
	}
	v.Flags = append(v.Flags, d.repetitions(events)...)

	if len(v.Flags) > 0 {
		v.Suspicious = true
		d.logger.Warn("suspicious activity detected",
			zap.String("principal_id", principalID),
			zap.Int("window", len(events)),
			zap.Strings("flags", v.Flags),
		)
	}
	return v
}

// velocityExceeded: любые threshold+1 подряд идущих событий уложились меньше чем в окно времени.
func (d *Detector) velocityExceeded(events []domain.Event) bool {
	n := d.cfg.VelocityCountThreshold
	if len(events) <= n {
		return false
	}

	stamps := make([]time.Time, len(events))
	for i, e := range events {
		stamps[i] = e.Timestamp
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	for i := 0; i+n < len(stamps); i++ {
		if stamps[i+n].Sub(stamps[i]) < d.cfg.VelocityTimeWindow {
			return true
		}
	}
	return false
}

func (d *Detector) repetitions(events []domain.Event) []string {
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.Type]++
	}

	types := make([]string, 0, len(counts))
	for t, c := range counts {
		if c > d.cfg.RepetitionCountThreshold {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	flags := make([]string, 0, len(types))
	for _, t := range types {
		flags = append(flags, fmt.Sprintf("repeated action: %s (%d times)", t, counts[t]))
	}
	return flags
}
