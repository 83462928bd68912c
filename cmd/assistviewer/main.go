// Command assistviewer shows assistance results and session signals from
// Kafka in the browser, pushed over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-assist-service/internal/events"
)

//go:embed static/*
var staticFiles embed.FS

// recordReader is the subset of *kafka.Reader the consumer uses.
type recordReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, hub *Hub, r recordReader, topic string) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		if !json.Valid(msg.Value) {
			log.Warn().Str("topic", topic).Msg("Skipping non-JSON record")
			continue
		}
		hub.Broadcast(Envelope{Topic: topic, Session: string(msg.Key), Event: msg.Value})
	}
}

func newReader(brokers []string, topic string) *kafka.Reader {
	// Partition reader without a consumer group: every viewer sees every record.
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
}

func newRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()
	staticFS, _ := fs.Sub(staticFiles, "static")
	r.Handle("/ws", hub)
	r.Handle("/*", http.FileServer(http.FS(staticFS)))
	return r
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicAssistance := flag.String("topic-assistance", events.DefaultTopicAssistance, "Assistance topic")
	topicSignal := flag.String("topic-signal", events.DefaultTopicSignal, "Session signal topic")
	since := flag.Duration("since", time.Hour, "Replay records newer than this")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	for _, topic := range []string{*topicAssistance, *topicSignal} {
		r := newReader(strings.Split(*brokers, ","), topic)
		defer r.Close()
		if err := r.SetOffsetAt(ctx, time.Now().Add(-*since)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not seek, reading from the start")
		}
		go consume(ctx, hub, r, topic)
	}

	srv := &http.Server{Addr: ":" + *port, Handler: newRouter(hub), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Strs("topics", []string{*topicAssistance, *topicSignal}).
		Msg("Assist viewer starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
