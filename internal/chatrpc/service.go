// ABOUTME: Service descriptor and message types of jobchat.v1.MessageService
// ABOUTME: Unary FetchHistory and Persist, server-streaming Subscribe

package chatrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/2389/jobchat/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobchat.v1.MessageService"

const (
	fetchHistoryMethod = "/" + ServiceName + "/FetchHistory"
	persistMethod      = "/" + ServiceName + "/Persist"
	subscribeMethod    = "/" + ServiceName + "/Subscribe"
)

type FetchHistoryRequest struct {
	ConversationID string `json:"conversation_id"`
}

type FetchHistoryResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
}

type PersistRequest struct {
	Draft *store.Draft `json:"draft"`
}

type PersistResponse struct {
	Message *store.Message `json:"message"`
}

type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// SubscribeEvent is one frame of a Subscribe stream. The first frame has
// Ready set and no message; it is sent once the subscription is live.
type SubscribeEvent struct {
	Ready   bool           `json:"ready,omitempty"`
	Message *store.Message `json:"message,omitempty"`
}

// MessageServiceServer is the server API of the MessageService.
type MessageServiceServer interface {
	FetchHistory(context.Context, *FetchHistoryRequest) (*FetchHistoryResponse, error)
	Persist(context.Context, *PersistRequest) (*PersistResponse, error)
	Subscribe(*SubscribeRequest, SubscribeStream) error
}

// SubscribeStream is the server side of a Subscribe call.
type SubscribeStream interface {
	Send(*SubscribeEvent) error
	grpc.ServerStream
}

type subscribeStream struct {
	grpc.ServerStream
}

func (s *subscribeStream) Send(ev *SubscribeEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func fetchHistoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchHistoryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MessageServiceServer).FetchHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchHistoryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MessageServiceServer).FetchHistory(ctx, req.(*FetchHistoryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func persistHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PersistRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MessageServiceServer).Persist(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: persistMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MessageServiceServer).Persist(ctx, req.(*PersistRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MessageServiceServer).Subscribe(in, &subscribeStream{stream})
}

// ServiceDesc describes the MessageService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchHistory", Handler: fetchHistoryHandler},
		{MethodName: "Persist", Handler: persistHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "jobchat/v1/message_service",
}

// RegisterMessageServiceServer registers srv on s.
func RegisterMessageServiceServer(s grpc.ServiceRegistrar, srv MessageServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
