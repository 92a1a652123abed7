package ledger

import "fmt"

// DefaultLevelThresholds — пороги уровней 1..7.
var DefaultLevelThresholds = []int64{0, 100, 250, 500, 1000, 2000, 5000}

// LevelTable — фиксированная возрастающая таблица порогов. Уровень i (с единицы) соответствует thresholds[i-1].
type LevelTable struct {
	thresholds []int64
}

func NewLevelTable(thresholds []int64) (*LevelTable, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("ledger: empty level threshold table")
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("ledger: level thresholds must be strictly ascending (index %d)", i)
		}
	}
	cp := make([]int64, len(thresholds))
	copy(cp, thresholds)
	return &LevelTable{thresholds: cp}, nil
}

// Level — наибольший индекс, порог которого не превышает score. Ниже первого порога — уровень 1.
func (t *LevelTable) Level(score int64) int {
	for i := len(t.thresholds) - 1; i > 0; i-- {
		if score >= t.thresholds[i] {
			return i + 1
		}
	}
	return 1
}

// Max — число уровней.
func (t *LevelTable) Max() int { return len(t.thresholds) }

// Threshold возвращает порог уровня (с единицы).
func (t *LevelTable) Threshold(level int) (int64, bool) {
	if level < 1 || level > len(t.thresholds) {
		return 0, false
	}
	return t.thresholds[level-1], true
}
