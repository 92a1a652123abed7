package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

const (
	DefaultMaxParamBytes = 4096
	redactedPrefix       = "redacted:"
)

// DefaultRedactKeys — ключи, значения которых никогда не попадают в журнал в открытом виде.
var DefaultRedactKeys = []string{"password", "token", "secret", "authorization", "api_key"}

// Redactor готовит копию параметров для ActionRecord: секреты заменяются отпечатком, крупные payload урезаются.
type Redactor struct {
	maxBytes int
	keys     map[string]struct{}
}

func NewRedactor(maxBytes int, keys []string) *Redactor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxParamBytes
	}
	if keys == nil {
		keys = DefaultRedactKeys
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return &Redactor{maxBytes: maxBytes, keys: set}
}

// Apply никогда не меняет исходную карту.
func (r *Redactor) Apply(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := r.redactMap(params)

	raw, err := json.Marshal(out)
	if err != nil {
		return map[string]any{"_unencodable": err.Error()}
	}
	if len(raw) <= r.maxBytes {
		return out
	}
	return map[string]any{
		"_truncated": true,
		"_size":      len(raw),
		"_preview":   validPrefix(raw, r.maxBytes),
	}
}

func (r *Redactor) redactMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, secret := r.keys[strings.ToLower(k)]; secret {
			out[k] = fingerprint(v)
			continue
		}
		switch vv := v.(type) {
		case map[string]any:
			out[k] = r.redactMap(vv)
		case []any:
			items := make([]any, len(vv))
			for i, item := range vv {
				if m, ok := item.(map[string]any); ok {
					items[i] = r.redactMap(m)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

// fingerprint позволяет сопоставлять одинаковые секреты между записями, не раскрывая их.
func fingerprint(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte(fmt.Sprint(v))
	}
	sum := blake2b.Sum256(raw)
	return redactedPrefix + hex.EncodeToString(sum[:8])
}

func validPrefix(raw []byte, n int) string {
	if n > len(raw) {
		n = len(raw)
	}
	for n > 0 && !utf8.Valid(raw[:n]) {
		n--
	}
	return string(raw[:n])
}
