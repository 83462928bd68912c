// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"ai-call-assist-service/internal/observability/metrics"
)

// UnaryServerInterceptor returns a gRPC unary interceptor for metrics and logging.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := status.Code(err)
		m.RecordRPC("grpc", info.FullMethod, code.String(), duration.Seconds())

		log.Debug().
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", duration).
			Msg("gRPC unary call")

		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor. Besides latency it
// logs how many messages the handler pushed and why the stream ended.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		cs := &countingStream{ServerStream: ss}

		err := handler(srv, cs)

		duration := time.Since(start)
		code := status.Code(err)
		m.RecordRPC("grpc", info.FullMethod, code.String(), duration.Seconds())

		log.Info().
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Int64("sent", cs.sent.Load()).
			Str("endReason", endReason(ss.Context(), err)).
			Dur("duration", duration).
			Msg("gRPC stream closed")

		return err
	}
}

// countingStream counts messages sent to the client.
type countingStream struct {
	grpc.ServerStream
	sent atomic.Int64
}

func (s *countingStream) SendMsg(msg interface{}) error {
	err := s.ServerStream.SendMsg(msg)
	if err == nil {
		s.sent.Add(1)
	}
	return err
}

// endReason tells a server-side close from a client going away.
func endReason(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "client_gone"
	case err != nil:
		return "error"
	default:
		return "completed"
	}
}
