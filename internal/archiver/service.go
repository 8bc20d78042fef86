package archiver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/auralabs/aura-core/internal/bus"
	"github.com/auralabs/aura-core/internal/config"
	"github.com/auralabs/aura-core/internal/eventstore"
	"github.com/auralabs/aura-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service persists transcripts flowing over the bus into the store.
type Service struct {
	cfg        config.EventStoreConfig
	bus        *bus.Client
	store      *eventstore.Store
	logger     *slog.Logger
	subFinal   *nats.Subscription
	subPartial *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewService(parent context.Context, cfg config.EventStoreConfig, busClient *bus.Client, store *eventstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if s.cfg.RetentionMode == "ephemeral" {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, s.handleTranscript)
	if err != nil {
		return err
	}
	s.subFinal = sub

	if s.cfg.ArchivePartials {
		subPartial, err := s.bus.Conn().Subscribe(protocol.SubjectTranscriptPartial, s.handleTranscript)
		if err != nil {
			_ = s.subFinal.Drain()
			return err
		}
		s.subPartial = subPartial
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subFinal != nil {
		_ = s.subFinal.Drain()
	}
	if s.subPartial != nil {
		_ = s.subPartial.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.subFinal != nil
}

func (s *Service) handleTranscript(msg *nats.Msg) {
	var transcript protocol.Transcript
	if err := json.Unmarshal(msg.Data, &transcript); err != nil {
		s.logger.Warn("archiver failed to decode transcript", slogError(err))
		return
	}
	if transcript.Text == "" || transcript.SessionID == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.store.AppendSession(s.ctx, transcript.SessionID, "bus", transcript.Language); err != nil {
			s.logger.Warn("archiver failed to upsert session", slogError(err))
			return
		}
		err := s.store.AppendTranscript(s.ctx, eventstore.Transcript{
			SessionID:  transcript.SessionID,
			Text:       transcript.Text,
			Language:   transcript.Language,
			Partial:    transcript.Partial,
			Confidence: transcript.Confidence,
			CreatedAt:  transcript.Timestamp,
		})
		if err != nil {
			s.logger.Warn("archiver failed to append transcript", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
