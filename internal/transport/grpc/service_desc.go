package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "mainroom.v1.MainRoomService"
	methodJoin    = "/" + ServiceName + "/Join"
	methodGetRoom = "/" + ServiceName + "/GetRoom"
)

// MainRoomServer - контракт сервиса. Сообщения передаются как google.protobuf.Struct,
// поля описаны в Server.Join и Server.GetRoom.
type MainRoomServer interface {
	Join(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MainRoomServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
		{MethodName: "GetRoom", Handler: getRoomHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mainroom/v1/mainroom.proto",
}

func Register(s grpc.ServiceRegistrar, srv MainRoomServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func joinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MainRoomServer).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodJoin}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MainRoomServer).Join(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getRoomHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MainRoomServer).GetRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRoom}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MainRoomServer).GetRoom(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
