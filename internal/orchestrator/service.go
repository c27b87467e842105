package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DispatchMessage is the payload the API service publishes per paid job
type DispatchMessage struct {
	JobID string `json:"job_id"`
}

// DispatchSource is the queue-consumer surface the service needs; the
// production implementation is the shared rabbitmq client.
type DispatchSource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Service consumes dispatch messages and runs one pipeline goroutine per
// job. Messages are acknowledged before the pipeline starts: a job's
// progress lives in its database row, not in the queue, so redelivery is
// not a recovery mechanism here.
type Service struct {
	client        DispatchSource
	orchestrator  *Orchestrator
	prefetchCount int
	consumerTag   string
	logger        *slog.Logger

	wg sync.WaitGroup
}

// NewService creates a consumer service
func NewService(
	client DispatchSource,
	orchestrator *Orchestrator,
	prefetchCount int,
	consumerTag string,
	logger *slog.Logger,
) *Service {
	return &Service{
		client:        client,
		orchestrator:  orchestrator,
		prefetchCount: prefetchCount,
		consumerTag:   consumerTag,
		logger:        logger,
	}
}

// Run consumes until ctx is canceled, then waits for in-flight pipelines to
// finish before returning.
func (s *Service) Run(ctx context.Context) error {
	if s.prefetchCount > 0 {
		if err := s.client.Qos(s.prefetchCount); err != nil {
			return fmt.Errorf("failed to set prefetch count: %w", err)
		}
	}

	messages, err := s.client.Consume(s.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("Orchestrator consuming dispatch messages")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutdown requested, waiting for running jobs")
			s.wg.Wait()
			return nil

		case msg, ok := <-messages:
			if !ok {
				s.wg.Wait()
				return fmt.Errorf("message channel closed")
			}

			var payload DispatchMessage
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				s.logger.Error("Failed to parse dispatch message",
					slog.Any("error", err),
				)
				// Malformed payloads never become parseable; drop them.
				if err := msg.Nack(false, false); err != nil {
					s.logger.Error("Failed to nack message", slog.Any("error", err))
				}
				continue
			}

			if _, err := uuid.Parse(payload.JobID); err != nil {
				s.logger.Error("Dispatch message carries invalid job id",
					slog.String("job_id", payload.JobID),
				)
				if err := msg.Nack(false, false); err != nil {
					s.logger.Error("Failed to nack message", slog.Any("error", err))
				}
				continue
			}

			if err := msg.Ack(false); err != nil {
				s.logger.Error("Failed to ack message", slog.Any("error", err))
				continue
			}

			// The pipeline outlives a shutdown signal; Run waits for it
			// via the WaitGroup instead of canceling mid-build.
			jobCtx := context.WithoutCancel(ctx)

			s.wg.Add(1)
			go func(id string) {
				defer s.wg.Done()
				s.orchestrator.RunJob(jobCtx, id)
			}(payload.JobID)
		}
	}
}
