package grpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"calcstream/internal/models"
	"calcstream/internal/types"
)

// HistoryClient представляет gRPC клиент сервиса истории
type HistoryClient struct {
	conn *grpc.ClientConn
}

// NewHistoryClient создает клиента. Соединение устанавливается при первом вызове.
func NewHistoryClient(target string, opts ...grpc.DialOption) (*HistoryClient, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(16*1024*1024), // 16MB
			grpc.MaxCallSendMsgSize(16*1024*1024), // 16MB
		),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &HistoryClient{conn: conn}, nil
}

// Close закрывает соединение с сервером
func (c *HistoryClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Submit отправляет выражение в очередь сервера
func (c *HistoryClient) Submit(ctx context.Context, expression string, mode models.Mode) error {
	resp := new(SubmitResponse)
	req := &SubmitRequest{Expression: expression, Mode: string(mode)}
	if err := c.conn.Invoke(ctx, submitMethod, req, resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return errors.New("expression was not accepted")
	}
	return nil
}

// Subscription - открытый поток истории
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe открывает поток: первым приходит full_history, затем history_update
func (c *HistoryClient) Subscribe(ctx context.Context) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &HistoryServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&SubscribeRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv ждет следующее сообщение; io.EOF означает, что сервер закрыл поток
func (s *Subscription) Recv() (types.ServerMessage, error) {
	var msg types.ServerMessage
	if err := s.stream.RecvMsg(&msg); err != nil {
		return types.ServerMessage{}, err
	}
	return msg, nil
}

// Each вызывает fn для каждого сообщения до закрытия потока
func (s *Subscription) Each(fn func(types.ServerMessage)) error {
	for {
		msg, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(msg)
	}
}
