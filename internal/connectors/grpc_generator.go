package connectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod — полное имя RPC сервиса генерации. Запрос и ответ — google.protobuf.Struct.
const GenerateMethod = "/trustmesh.content.v1.ContentService/Generate"

type GRPCGenerator struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCGenerator создает экземпляр адаптера
func NewGRPCGenerator(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCGenerator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCGenerator{conn: conn, timeout: timeout}
}

func (g *GRPCGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Защитный таймаут на уровне вызова: даже если ReliabilityWrapper имеет свой, адаптер должен иметь свой предел
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
			return "", &ThrottleError{RetryAfter: retryAfter(st), Cause: err}
		}
		return "", fmt.Errorf("content capability call failed: %w", err)
	}

	fields := resp.GetFields()
	if e := fields["error"].GetStringValue(); e != "" {
		return "", fmt.Errorf("content capability returned error: %s", e)
	}
	text, ok := fields["text"]
	if !ok {
		return "", fmt.Errorf("content capability returned no text")
	}
	return text.GetStringValue(), nil
}

// retryAfter читает подсказку сервера из сообщения статуса ("retry_after_ms=250"), иначе 1s.
func retryAfter(st *status.Status) time.Duration {
	const key = "retry_after_ms="
	msg := st.Message()
	i := strings.Index(msg, key)
	if i < 0 {
		return time.Second
	}
	rest := msg[i+len(key):]
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(rest)
	}
	ms, err := strconv.Atoi(rest[:end])
	if err != nil {
		return time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
