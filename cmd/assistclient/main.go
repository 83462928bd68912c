// Command assistclient drives a call-assist session over gRPC: it submits a
// WAV file or text lines as sequenced chunks and prints every assistance
// result pushed back.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "ai-call-assist-service/internal/api/grpc"
	"ai-call-assist-service/internal/service/classify/mock"
)

// At 8kHz 16-bit mono = 16000 bytes/second
// 100ms chunks = 1600 bytes
const chunkSize = 1600

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (8kHz 16-bit mono)")
	textFile := flag.String("text", "", "Path to a text file, one utterance per line")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	sessionID := flag.String("session", "call-"+time.Now().Format("150405"), "Session ID")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between chunks")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	chunks, err := loadChunks(*audioFile, *textFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load chunks")
	}

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	id := map[string]interface{}{"sessionId": *sessionID}
	if err := invoke(ctx, conn, grpcapi.MethodStartSession, id); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	log.Info().Str("server", *serverAddr).Str("session", *sessionID).Int("chunks", len(chunks)).Msg("Session started")

	done, err := watch(ctx, conn, *sessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open assistance stream")
	}

	for i, c := range chunks {
		seq := i + 1
		err := invoke(ctx, conn, grpcapi.MethodSubmitChunk, map[string]interface{}{
			"sessionId": *sessionID,
			"sequence":  seq,
			"audio":     base64.StdEncoding.EncodeToString(c),
		})
		if err != nil {
			log.Error().Err(err).Int("sequence", seq).Msg("Chunk rejected")
		}
		time.Sleep(*interval)
	}

	// Let the last chunks finish before ending the session.
	time.Sleep(time.Second)
	if err := invoke(ctx, conn, grpcapi.MethodEndSession, id); err != nil {
		log.Error().Err(err).Msg("Failed to end session")
	}
	<-done
	log.Info().Msg("Session complete")
}

func loadChunks(audioFile, textFile string) ([][]byte, error) {
	switch {
	case audioFile != "":
		f, err := os.Open(audioFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		format, err := readWAVHeader(f)
		if err != nil {
			return nil, err
		}
		if format.SampleRate != 8000 {
			log.Warn().Uint32("sampleRate", format.SampleRate).Msg("Expected 8000 Hz audio")
		}
		return audioChunks(f, chunkSize)
	case textFile != "":
		f, err := os.Open(textFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return textChunks(f)
	default:
		return textChunks(strings.NewReader(strings.Join(mock.DefaultScript, "\n")))
	}
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, fields map[string]interface{}) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, method, req, new(structpb.Struct))
}

// watch prints pushed results until the session ends.
func watch(ctx context.Context, conn *grpc.ClientConn, sessionID string) (<-chan struct{}, error) {
	stream, err := conn.NewStream(ctx, &grpcapi.ServiceDesc.Streams[0], grpcapi.MethodStreamAssistance)
	if err != nil {
		return nil, err
	}
	req, _ := structpb.NewStruct(map[string]interface{}{"sessionId": sessionID})
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Error().Err(err).Msg("Assistance stream failed")
				}
				return
			}
			a, err := grpcapi.DecodeAssistance(msg)
			if err != nil {
				log.Error().Err(err).Msg("Undecodable assistance")
				continue
			}
			ev := log.Info().
				Uint64("sequence", a.Sequence).
				Str("stage", a.Stage.String()).
				Str("intent", a.DetectedIntent).
				Bool("degraded", a.Degraded)
			if a.SentimentScore != nil {
				ev = ev.Float64("sentiment", *a.SentimentScore)
			}
			ev.Msg(a.Transcript)
			for _, o := range a.WarningAlerts {
				log.Warn().Str("rule", o.RuleID).Str("urgency", o.Urgency.String()).Msg(o.Message)
			}
			for _, o := range a.Suggestions {
				log.Info().Str("rule", o.RuleID).Str("phrase", o.SuggestedPhrase).Msg(o.Message)
			}
			for _, o := range a.OpportunityFlags {
				log.Info().Str("rule", o.RuleID).Str("urgency", o.Urgency.String()).Msg(o.Message)
			}
		}
	}()
	return done, nil
}
