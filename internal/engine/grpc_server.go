package engine

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/trustmesh/internal/domain"
)

// ActorServiceName — gRPC-сервис вызова акторов. Запрос и ответ — google.protobuf.Struct:
// запрос {actor_id, action, params, min_trust_level}, ответ {data}.
const ActorServiceName = "trustmesh.v1.ActorService"

// ActorServiceServer — контракт сервиса (ServiceDesc пишется вручную, схема — Struct).
type ActorServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ActorServiceDesc = grpc.ServiceDesc{
	ServiceName: ActorServiceName,
	HandlerType: (*ActorServiceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Execute",
		Handler:    executeHandler,
	}},
	Metadata: "trustmesh/v1/actor.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActorServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ActorServiceName + "/Execute",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ActorServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterActorService регистрирует сервис на gRPC сервере.
func RegisterActorService(s grpc.ServiceRegistrar, srv ActorServiceServer) {
	s.RegisterService(&ActorServiceDesc, srv)
}

type GRPCActorServer struct {
	envelope *Envelope
}

func NewGRPCActorServer(env *Envelope) *GRPCActorServer {
	return &GRPCActorServer{envelope: env}
}

// Execute — тот же единый пайплайн конверта, что и для HTTP.
func (s *GRPCActorServer) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	actorID := fields["actor_id"].GetStringValue()
	action := fields["action"].GetStringValue()
	if actorID == "" || action == "" {
		return nil, status.Error(codes.InvalidArgument, "actor_id and action are required")
	}

	var opts []InvokeOption
	if lvl := int(fields["min_trust_level"].GetNumberValue()); lvl > 0 {
		opts = append(opts, WithMinTrustLevel(lvl))
	}

	res, err := s.envelope.Invoke(ctx, actorID, action, fields["params"].GetStructValue().AsMap(), opts...)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := structpb.NewStruct(map[string]any{"data": normalizeForProto(res.Data)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// toStatus переводит таксономию ошибок ядра в коды gRPC.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrInsufficientTrust):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, domain.ErrUnknownTargetActor), errors.Is(err, domain.ErrUnknownEventType):
		code = codes.NotFound
	case errors.Is(err, domain.ErrAccountFrozen):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrRouteTimeout):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrQueueFull):
		code = codes.ResourceExhausted
	}
	return status.Error(code, err.Error())
}

// normalizeForProto приводит значения к типам, которые понимает structpb (int → float64, []string → []any и т.д.).
func normalizeForProto(v any) any {
	switch vv := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, x := range vv {
			out[k] = normalizeForProto(x)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = normalizeForProto(x)
		}
		return out
	case []string:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = x
		}
		return out
	case []map[string]any:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = normalizeForProto(x)
		}
		return out
	case int:
		return float64(vv)
	case int64:
		return float64(vv)
	case int32:
		return float64(vv)
	case uint32:
		return float64(vv)
	case bool, string, float64, float32:
		return vv
	default:
		return fmt.Sprint(vv)
	}
}
