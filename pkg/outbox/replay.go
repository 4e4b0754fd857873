package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"habitledger/pkg/metrics"
)

// ReplayService 手动重放 outbox 事件（运维命令使用）
type ReplayService struct {
	store      EventStore
	publisher  EventPublisher
	logger     *zap.Logger
	maxRetries int
}

func NewReplayService(store EventStore, publisher EventPublisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
	}
}

// ReplayEvent publishes a single event regardless of its current status.
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	event, err := s.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if err := publishEvent(ctx, s.publisher, event); err != nil {
		metrics.RecordOutboxPublish(event.RoutingKey, "failed")
		if markErr := s.store.MarkAsFailed(ctx, eventID, s.maxRetries); markErr != nil {
			return fmt.Errorf("replay event %d: %w (mark failed: %v)", eventID, err, markErr)
		}
		return fmt.Errorf("replay event %d: %w", eventID, err)
	}

	metrics.RecordOutboxPublish(event.RoutingKey, "replayed")
	if err := s.store.MarkAsSent(ctx, eventID); err != nil {
		return fmt.Errorf("replay event %d: mark as sent: %w", eventID, err)
	}
	s.logger.Info("Outbox event replayed",
		zap.Int64("event_id", eventID),
		zap.String("routing_key", event.RoutingKey),
	)
	return nil
}

// ReplayFailedEvents 重放所有 failed 事件，单个失败不影响其他事件
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
