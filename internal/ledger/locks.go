package ledger

import "sync"

// principalLocks сериализует read-modify-write одного принципала.
// Разные принципалы обновляются параллельно. Записи никогда не удаляются, поэтому и мьютексы тоже.
type principalLocks struct {
	m sync.Map // principalID -> *sync.Mutex
}

func (l *principalLocks) lock(principalID string) (unlock func()) {
	v, ok := l.m.Load(principalID)
	if !ok {
		v, _ = l.m.LoadOrStore(principalID, &sync.Mutex{})
	}
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
