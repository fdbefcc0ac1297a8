package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wppdesk.v1.StoreService"

// MethodPath returns the full method name used on the wire.
func MethodPath(method string) string {
	return "/" + ServiceName + "/" + method
}

// Method names.
const (
	MethodListConversations             = "ListConversations"
	MethodInstanceNames                 = "InstanceNames"
	MethodGetConversation               = "GetConversation"
	MethodUpdateConversationLastMessage = "UpdateConversationLastMessage"
	MethodMarkConversationRead          = "MarkConversationRead"
	MethodListMessages                  = "ListMessages"
	MethodListMessagesByContact         = "ListMessagesByContact"
	MethodIngestMessage                 = "IngestMessage"
	MethodSendText                      = "SendText"
	MethodSetBotEnabled                 = "SetBotEnabled"
	MethodAddInstance                   = "AddInstance"
	MethodWatchChanges                  = "WatchChanges"
)

// WatchChangesStream describes the server-streaming WatchChanges call for
// grpc.ClientConn.NewStream.
var WatchChangesStream = &grpc.StreamDesc{
	StreamName:    MethodWatchChanges,
	ServerStreams: true,
}

type watcher interface {
	WatchChanges(*WatchChangesRequest, grpc.ServerStream) error
}

// StoreServiceDesc is registered with grpc.Server.RegisterService.
var StoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watcher)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodListConversations, (*StoreService).ListConversations),
		unary(MethodInstanceNames, (*StoreService).InstanceNames),
		unary(MethodGetConversation, (*StoreService).GetConversation),
		unary(MethodUpdateConversationLastMessage, (*StoreService).UpdateConversationLastMessage),
		unary(MethodMarkConversationRead, (*StoreService).MarkConversationRead),
		unary(MethodListMessages, (*StoreService).ListMessages),
		unary(MethodListMessagesByContact, (*StoreService).ListMessagesByContact),
		unary(MethodIngestMessage, (*StoreService).IngestMessage),
		unary(MethodSendText, (*StoreService).SendText),
		unary(MethodSetBotEnabled, (*StoreService).SetBotEnabled),
		unary(MethodAddInstance, (*StoreService).AddInstance),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchChanges,
			Handler:       watchChangesHandler,
			ServerStreams: true,
		},
	},
}

// Register adds svc to srv.
func Register(srv *grpc.Server, svc *StoreService) {
	srv.RegisterService(&StoreServiceDesc, svc)
}

func unary[Req, Resp any](name string, call func(*StoreService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(*StoreService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPath(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*Req))
			})
		},
	}
}

func watchChangesHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchChangesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*StoreService).WatchChanges(in, stream)
}
