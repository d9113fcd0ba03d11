package grpc

import (
	"context"

	"google.golang.org/grpc"

	"calcstream/internal/types"
)

const (
	serviceName         = "calcstream.History"
	submitMethod        = "/" + serviceName + "/Submit"
	subscribeMethod     = "/" + serviceName + "/Subscribe"
	subscribeStreamName = "Subscribe"
)

// SubmitRequest - выражение для очереди вычислений
type SubmitRequest struct {
	Expression string `msgpack:"expression"`
	Mode       string `msgpack:"mode,omitempty"`
}

type SubmitResponse struct {
	Accepted bool `msgpack:"accepted"`
}

type SubscribeRequest struct{}

// HistoryService - серверная часть сервиса calcstream.History
type HistoryService interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	Subscribe(req *SubscribeRequest, stream HistorySubscribeStream) error
}

// HistorySubscribeStream - серверный поток сообщений истории
type HistorySubscribeStream interface {
	Send(msg *types.ServerMessage) error
	grpc.ServerStream
}

type historySubscribeStream struct {
	grpc.ServerStream
}

func (s *historySubscribeStream) Send(msg *types.ServerMessage) error {
	return s.ServerStream.SendMsg(msg)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryService).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: submitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HistoryService).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HistoryService).Subscribe(in, &historySubscribeStream{stream})
}

// HistoryServiceDesc описывает сервис вручную: сообщения кодируются
// MessagePack, поэтому сгенерированный protobuf-код не нужен.
var HistoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*HistoryService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    submitHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeStreamName,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "calcstream/history",
}

// RegisterHistoryService регистрирует реализацию на gRPC сервере
func RegisterHistoryService(s grpc.ServiceRegistrar, srv HistoryService) {
	s.RegisterService(&HistoryServiceDesc, srv)
}
