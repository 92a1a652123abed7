package engine

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// tokenIsUser принимает токен "Bearer <user>".
type tokenIsUser struct{}

func (tokenIsUser) VerifyToken(tok string) (*domain.CustomClaims, error) {
	if len(tok) <= len("Bearer ") {
		return nil, errors.New("bad token")
	}
	return &domain.CustomClaims{UserID: tok[len("Bearer "):]}, nil
}

func dialActorService(t *testing.T, env *Envelope) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(tokenIsUser{}, zap.NewNop())))
	RegisterActorService(srv, NewGRPCActorServer(env))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func callExecute(ctx context.Context, conn *grpc.ClientConn, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ActorServiceName+"/Execute", in, out)
	return out, err
}

func TestGRPCActorServer(t *testing.T) {
	f := newEnvFixture(t, nil)
	conn := dialActorService(t, f.env)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer alice", "x-trace-id", "grpc-trace")
	out, err := callExecute(ctx, conn, map[string]any{"actor_id": "test", "action": "gated"})
	require.NoError(t, err)
	assert.Equal(t, "alice", out.GetFields()["data"].GetStructValue().GetFields()["who"].GetStringValue())

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "grpc-trace", recs[0].TraceID)
	assert.Equal(t, "alice", recs[0].PrincipalID)
}

func TestGRPCActorServer_StatusCodes(t *testing.T) {
	f := newEnvFixture(t, nil)
	conn := dialActorService(t, f.env)
	bob := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer bob")

	_, err := callExecute(context.Background(), conn, map[string]any{"actor_id": "test", "action": "gated"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = callExecute(bob, conn, map[string]any{"actor_id": "test", "action": "elite"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = callExecute(bob, conn, map[string]any{"actor_id": "ghost", "action": "gated"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = callExecute(bob, conn, map[string]any{"actor_id": "test", "action": "gated", "min_trust_level": 5})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = callExecute(bob, conn, map[string]any{"action": "gated"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Len(t, f.records(t), 4, "invalid requests never reach the envelope")
}

func TestNormalizeForProto(t *testing.T) {
	v := normalizeForProto(map[string]any{
		"n":      int64(3),
		"badges": []string{"a"},
		"nested": []map[string]any{{"k": 1}},
	})
	_, err := structpb.NewValue(v)
	assert.NoError(t, err)
}
