package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chatsync.v1.Control"

// Unary method names.
const (
	MethodStatus           = "Status"
	MethodListRooms        = "ListRooms"
	MethodListMessages     = "ListMessages"
	MethodSelectRoom       = "SelectRoom"
	MethodSendText         = "SendText"
	MethodSendFile         = "SendFile"
	MethodHideRoom         = "HideRoom"
	MethodCreateDirectRoom = "CreateDirectRoom"
	MethodSearchUsers      = "SearchUsers"
	MethodSearchMessages   = "SearchMessages"
	MethodSetFocus         = "SetFocus"
	MethodTyping           = "Typing"
	MethodSync             = "Sync"
	MethodLogin            = "Login"
	MethodLogout           = "Logout"

	StreamWatchEvents = "WatchEvents"
)

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

// ControlServer is implemented by Service.
type ControlServer interface {
	WatchEvents(*structpb.Struct, EventStream) error
}

type unaryFunc func(s *Service, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes chatsync.v1.Control for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, (*Service).Status),
		unary(MethodListRooms, (*Service).ListRooms),
		unary(MethodListMessages, (*Service).ListMessages),
		unary(MethodSelectRoom, (*Service).SelectRoom),
		unary(MethodSendText, (*Service).SendText),
		unary(MethodSendFile, (*Service).SendFile),
		unary(MethodHideRoom, (*Service).HideRoom),
		unary(MethodCreateDirectRoom, (*Service).CreateDirectRoom),
		unary(MethodSearchUsers, (*Service).SearchUsers),
		unary(MethodSearchMessages, (*Service).SearchMessages),
		unary(MethodSetFocus, (*Service).SetFocus),
		unary(MethodTyping, (*Service).Typing),
		unary(MethodSync, (*Service).Sync),
		unary(MethodLogin, (*Service).Login),
		unary(MethodLogout, (*Service).Logout),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// Register attaches svc to srv.
func Register(srv grpc.ServiceRegistrar, svc *Service) {
	srv.RegisterService(&ServiceDesc, svc)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(*Service)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (w watchEventsServer) Send(m *structpb.Struct) error {
	return w.ServerStream.SendMsg(m)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*Service).WatchEvents(in, watchEventsServer{stream})
}
