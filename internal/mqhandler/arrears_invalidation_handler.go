package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "habitledger/contracts/mq"
	"habitledger/pkg/logger"
	"habitledger/pkg/trace"
)

// ArrearsInvalidator drops a user's cached arrears; *cache.CachedArrears implements it.
type ArrearsInvalidator interface {
	Invalidate(ctx context.Context, userID int) error
}

type CompletionToggledHandler struct {
	arrears ArrearsInvalidator
	logger  *zap.Logger
}

func NewCompletionToggledHandler(arrears ArrearsInvalidator, logger *zap.Logger) *CompletionToggledHandler {
	return &CompletionToggledHandler{arrears: arrears, logger: logger}
}

// Handle 打卡状态变化后，该用户的欠账缓存失效
func (h *CompletionToggledHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.CompletionToggledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal CompletionToggledPayload", zap.Error(err))
		return err
	}
	ctx = trace.WithContext(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger)

	if p.UserID <= 0 {
		log.Error("Invalid user_id in habit.completion.toggled event", zap.Int("user_id", p.UserID))
		return fmt.Errorf("invalid user_id: %d", p.UserID)
	}

	log.Debug("Handling habit.completion.toggled event",
		zap.Int("user_id", p.UserID),
		zap.Int("habit_id", p.HabitID),
		zap.String("date", p.Date),
		zap.Bool("completed", p.Completed),
	)

	if err := h.arrears.Invalidate(ctx, p.UserID); err != nil {
		log.Error("Failed to invalidate arrears cache", zap.Int("user_id", p.UserID), zap.Error(err))
		return err
	}
	return nil
}

type HabitSkippedHandler struct {
	arrears ArrearsInvalidator
	logger  *zap.Logger
}

func NewHabitSkippedHandler(arrears ArrearsInvalidator, logger *zap.Logger) *HabitSkippedHandler {
	return &HabitSkippedHandler{arrears: arrears, logger: logger}
}

func (h *HabitSkippedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.HabitSkippedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal HabitSkippedPayload", zap.Error(err))
		return err
	}
	ctx = trace.WithContext(ctx, p.TraceID)
	log := logger.WithTrace(ctx, h.logger)

	if p.UserID <= 0 {
		log.Error("Invalid user_id in habit.skipped event", zap.Int("user_id", p.UserID))
		return fmt.Errorf("invalid user_id: %d", p.UserID)
	}

	if err := h.arrears.Invalidate(ctx, p.UserID); err != nil {
		log.Error("Failed to invalidate arrears cache", zap.Int("user_id", p.UserID), zap.Error(err))
		return err
	}
	log.Debug("Arrears cache invalidated after skip",
		zap.Int("user_id", p.UserID),
		zap.Int("habit_id", p.HabitID),
		zap.String("date", p.Date),
	)
	return nil
}
