package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "habitledger/contracts/mq"
	"habitledger/pkg/logger"
	"habitledger/pkg/trace"
)

// LevelChangedHandler 记录等级变化（审计日志）
type LevelChangedHandler struct {
	logger *zap.Logger
}

func NewLevelChangedHandler(logger *zap.Logger) *LevelChangedHandler {
	return &LevelChangedHandler{logger: logger}
}

func (h *LevelChangedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.LevelChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal LevelChangedPayload", zap.Error(err))
		return err
	}
	ctx = trace.WithContext(ctx, p.TraceID)

	direction := "up"
	if p.NewLevel < p.OldLevel {
		direction = "down"
	}
	logger.WithTrace(ctx, h.logger).Info("Profile level changed",
		zap.Int("user_id", p.UserID),
		zap.Int("old_level", p.OldLevel),
		zap.Int("new_level", p.NewLevel),
		zap.String("direction", direction),
	)
	return nil
}
