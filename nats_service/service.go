package nats_service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
	"github.com/karthikraju391/go-nats-chat-stream/config"
	"github.com/karthikraju391/go-nats-chat-stream/models"
)

type NatsService struct {
	js  jetstream.JetStream
	nc  *nats.Conn
	cfg config.NatsConfig
	log *slog.Logger
}

// NewNatsService connects to NATS and makes sure the event stream exists
func NewNatsService(cfg config.NatsConfig, log *slog.Logger) (*NatsService, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "nats")

	nc, err := nats.Connect(cfg.URL, nats.Name("chat-stream-gateway"))
	if err != nil {
		return nil, apperrors.NewTransportError("failed to connect to NATS", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, apperrors.NewTransportError("failed to create jetstream context", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		log.Info("Stream not found, attempting to create", "stream", cfg.StreamName)
		stream, err = js.CreateStream(ctx, StreamConfig(cfg))
		if err != nil {
			nc.Close()
			return nil, apperrors.NewTransportError(fmt.Sprintf("failed to create stream '%s'", cfg.StreamName), err)
		}
		log.Info("Stream created", "stream", cfg.StreamName)
	} else {
		log.Info("Found existing stream", "stream", stream.CachedInfo().Config.Name)
	}

	return &NatsService{js: js, nc: nc, cfg: cfg, log: log}, nil
}

// StreamConfig describes the stream holding the events of every channel.
func StreamConfig(cfg config.NatsConfig) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Real-time chat channel events",
		Subjects:    []string{cfg.SubjectPrefix + ".*"},
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
	}
}

// Close NATS connection
func (s *NatsService) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// Healthy reports whether the NATS connection is up.
func (s *NatsService) Healthy() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// PublishEvent sends a channel event to the subject of its channel
func (s *NatsService) PublishEvent(ctx context.Context, ev models.Event) error {
	if err := models.ValidateChannelID(ev.ChannelID); err != nil {
		return err
	}
	subject := Subject(s.cfg.SubjectPrefix, ev.ChannelID)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return apperrors.NewTransportError(fmt.Sprintf("failed to publish event to subject '%s'", subject), err)
	}
	s.log.Debug("Published event", "subject", subject, "event", ev.Type, "message_id", ev.MessageID)
	return nil
}

// Subject returns the NATS subject carrying the events of a channel.
func Subject(prefix, channelID string) string {
	return fmt.Sprintf("%s.%s", prefix, channelID)
}

// SubscribeToChannel calls handler for every event published on the channel
// after the call. Stop the returned context to unsubscribe.
func (s *NatsService) SubscribeToChannel(ctx context.Context, channelID string, handler func(ev *models.Event)) (jetstream.ConsumeContext, error) {
	if err := models.ValidateChannelID(channelID); err != nil {
		return nil, err
	}
	subject := Subject(s.cfg.SubjectPrefix, channelID)
	// Ephemeral: a view already holds history from the fetch, so only
	// events from now on are delivered.
	cons, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to create consumer for subject '%s'", subject), err)
	}

	s.log.Debug("Subscribing", "subject", subject)

	consumeCtx, err := cons.Consume(func(jsMsg jetstream.Msg) {
		ev, err := DecodeEvent(jsMsg.Data())
		if err != nil {
			s.log.Warn("Skipping undecodable event", "subject", jsMsg.Subject(), "error", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to start consuming from subject '%s'", subject), err)
	}

	return consumeCtx, nil
}

// DecodeEvent parses and validates an event payload.
func DecodeEvent(data []byte) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, apperrors.NewValidationError("malformed event", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
