package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// MockGenerator имитирует генеративный сервис для локального запуска и тестов.
type MockGenerator struct {
	MinLatency time.Duration
	MaxLatency time.Duration
}

func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	latency := g.MinLatency
	if spread := g.MaxLatency - g.MinLatency; spread > 0 {
		latency += time.Duration(rand.Int64N(int64(spread)))
	}

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch {
	case strings.TrimSpace(prompt) == "":
		return "", fmt.Errorf("empty prompt")
	case strings.Contains(prompt, "#unstable"):
		return "", fmt.Errorf("content service internal error")
	case strings.Contains(prompt, "#throttle"):
		return "", &ThrottleError{RetryAfter: 10 * time.Millisecond, Cause: fmt.Errorf("quota exceeded")}
	default:
		return "generated: " + prompt, nil
	}
}
