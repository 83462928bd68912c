// Package grpcapi exposes the assistance service over gRPC. Messages are
// google.protobuf.Struct values carrying the JSON form of the domain types.
package grpcapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"ai-call-assist-service/internal/models"
	"ai-call-assist-service/internal/observability/logging"
	"ai-call-assist-service/internal/service/assist"
)

// TrailerAccepted is set to "true" in the trailer of a SubmitChunk call that
// failed with FailedPrecondition because the chunk was buffered out of order.
const TrailerAccepted = "accepted"

// Assistant is the session API served over gRPC.
type Assistant interface {
	StartSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	SubmitChunk(ctx context.Context, sessionID string, sequence uint64, audio []byte) error
	GetLatestAssistance(sessionID string) (models.RealTimeAssistance, error)
	Subscribe(sessionID string) (<-chan models.RealTimeAssistance, func(), error)
}

// Server implements AssistServer.
type Server struct {
	svc Assistant
}

// Register adds the assistance service to g.
func Register(g *grpc.Server, svc Assistant) *Server {
	s := &Server{svc: svc}
	g.RegisterService(&ServiceDesc, s)
	return s
}

// StartSession expects {"sessionId": string}.
func (s *Server) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(in)
	if err != nil {
		return nil, err
	}
	if err := s.svc.StartSession(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return ack(id), nil
}

// EndSession expects {"sessionId": string}.
func (s *Server) EndSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(in)
	if err != nil {
		return nil, err
	}
	if err := s.svc.EndSession(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return ack(id), nil
}

// SubmitChunk expects {"sessionId": string, "sequence": number, "audio": base64}.
func (s *Server) SubmitChunk(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(in)
	if err != nil {
		return nil, err
	}
	seq, err := sequence(in)
	if err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(in.GetFields()["audio"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "audio must be base64: %v", err)
	}

	err = s.svc.SubmitChunk(ctx, id, seq, audio)
	if errors.Is(err, assist.ErrSequenceOutOfOrder) {
		// Buffered: the caller must not resend.
		_ = grpc.SetTrailer(ctx, metadata.Pairs(TrailerAccepted, "true"))
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return ack(id), nil
}

// GetLatestAssistance expects {"sessionId": string} and returns the
// RealTimeAssistance JSON object.
func (s *Server) GetLatestAssistance(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := sessionID(in)
	if err != nil {
		return nil, err
	}
	a, err := s.svc.GetLatestAssistance(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return EncodeAssistance(a)
}

// StreamAssistance sends one message per processed chunk until the session
// ends or the client goes away.
func (s *Server) StreamAssistance(in *structpb.Struct, stream grpc.ServerStream) error {
	id, err := sessionID(in)
	if err != nil {
		return err
	}
	ch, cancel, err := s.svc.Subscribe(id)
	if err != nil {
		return toStatus(err)
	}
	defer cancel()

	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	log := logging.WithSession(id)
	log.Debug().Msg("Assistance stream opened")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case a, ok := <-ch:
			if !ok {
				log.Debug().Msg("Assistance stream closed by session end")
				return nil
			}
			msg, err := EncodeAssistance(a)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// EncodeAssistance converts a result to its Struct form.
func EncodeAssistance(a models.RealTimeAssistance) (*structpb.Struct, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode assistance: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode assistance: %w", err)
	}
	return out, nil
}

// DecodeAssistance converts a Struct produced by EncodeAssistance back into a result.
func DecodeAssistance(s *structpb.Struct) (models.RealTimeAssistance, error) {
	var a models.RealTimeAssistance
	b, err := protojson.Marshal(s)
	if err != nil {
		return a, fmt.Errorf("decode assistance: %w", err)
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("decode assistance: %w", err)
	}
	return a, nil
}

func ack(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"sessionId": structpb.NewStringValue(id),
		"ok":        structpb.NewBoolValue(true),
	}}
}

func sessionID(in *structpb.Struct) (string, error) {
	id := in.GetFields()["sessionId"].GetStringValue()
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "sessionId is required")
	}
	return id, nil
}

func sequence(in *structpb.Struct) (uint64, error) {
	v, ok := in.GetFields()["sequence"]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "sequence is required")
	}
	n := v.GetNumberValue()
	if n < 0 || n != math.Trunc(n) || n > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "sequence %v must be a non-negative integer", n)
	}
	return uint64(n), nil
}

// toStatus maps session lifecycle errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, assist.ErrSessionNotFound), errors.Is(err, assist.ErrNoAssistanceYet):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, assist.ErrSequenceOutOfOrder):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, assist.ErrStaleSequence):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, assist.ErrInvalidSessionID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, assist.ErrShutdown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
