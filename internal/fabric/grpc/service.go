package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// fabricServer is the server-side contract generated protoc-gen-go-grpc
// code would normally produce; hand-written here since the messages
// themselves are plain structs, not a compiled .proto (see codec.go).
type fabricServer interface {
	Send(ctx context.Context, env *Envelope) (*Ack, error)
	SubmitAllreduce(ctx context.Context, v *ValueMsg) (*ValueMsg, error)
	SubmitMinReduce(ctx context.Context, v *ValueMsg) (*ValueMsg, error)
	ArriveBarrier(ctx context.Context, e *Empty) (*Empty, error)
	NotifyRevoke(ctx context.Context, e *Empty) (*Empty, error)
}

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(fabricServer).Send(ctx, in)
}

func submitAllreduceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ValueMsg)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(fabricServer).SubmitAllreduce(ctx, in)
}

func submitMinReduceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ValueMsg)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(fabricServer).SubmitMinReduce(ctx, in)
}

func arriveBarrierHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(fabricServer).ArriveBarrier(ctx, in)
}

func notifyRevokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(fabricServer).NotifyRevoke(ctx, in)
}

// serviceDesc is the grpc.ServiceDesc a generated *_grpc.pb.go file
// would normally declare.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "faultsolve.Fabric",
	HandlerType: (*fabricServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "SubmitAllreduce", Handler: submitAllreduceHandler},
		{MethodName: "SubmitMinReduce", Handler: submitMinReduceHandler},
		{MethodName: "ArriveBarrier", Handler: arriveBarrierHandler},
		{MethodName: "NotifyRevoke", Handler: notifyRevokeHandler},
	},
	Metadata: "fabric.proto",
}

const (
	methodSend            = "/faultsolve.Fabric/Send"
	methodSubmitAllreduce = "/faultsolve.Fabric/SubmitAllreduce"
	methodSubmitMinReduce = "/faultsolve.Fabric/SubmitMinReduce"
	methodArriveBarrier   = "/faultsolve.Fabric/ArriveBarrier"
	methodNotifyRevoke    = "/faultsolve.Fabric/NotifyRevoke"
)
