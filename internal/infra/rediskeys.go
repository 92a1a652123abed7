package infra

import "strings"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "trustmesh"
)

// Ключи для Sets (состояние)
const (
	RedisKeyFrozenPrincipals = RedisNamespace + ":principals:frozen_set"
	RedisKeyLockWarmupFrozen = RedisNamespace + ":lock:warmup:frozen"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanFreeze — сигналы "<principal>:on" / "<principal>:off". ":off" публикует внешний процесс ревью.
	RedisChanFreeze = RedisNamespace + ":principals:freeze-signal"
)

// FreezeSignal формирует payload сигнала заморозки.
func FreezeSignal(principalID string, frozen bool) string {
	if frozen {
		return principalID + ":on"
	}
	return principalID + ":off"
}

// ParseFreezeSignal разбирает payload. id сам может содержать ':' ("actor:review"), поэтому режем по последнему.
func ParseFreezeSignal(payload string) (principalID string, frozen bool, ok bool) {
	sep := strings.LastIndex(payload, ":")
	if sep <= 0 {
		return "", false, false
	}
	switch payload[sep+1:] {
	case "on":
		return payload[:sep], true, true
	case "off":
		return payload[:sep], false, true
	default:
		return "", false, false
	}
}
