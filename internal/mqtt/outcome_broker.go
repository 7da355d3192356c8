package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/service"
)

// OutcomeMessage 设备通过 MQTT 回报的变更应用结果
type OutcomeMessage struct {
	HistoryID    int64  `json:"history_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	AppliedAt    int64  `json:"applied_at,omitempty"` // Unix 秒，可选
}

// OutcomeBroker 订阅设备回报主题，将回执交给 ReconcileService
// HTTP 回调端点之外的另一条回执通道（弱网设备走 MQTT QoS1 更可靠）
type OutcomeBroker struct {
	client    *Client
	topic     string
	reconcile service.ReconcileService
	logger    *zap.Logger
}

// NewOutcomeBroker 创建回执订阅器
func NewOutcomeBroker(client *Client, topic string, reconcile service.ReconcileService, logger *zap.Logger) *OutcomeBroker {
	return &OutcomeBroker{
		client:    client,
		topic:     topic,
		reconcile: reconcile,
		logger:    logger,
	}
}

// Start 订阅回报主题
func (b *OutcomeBroker) Start() error {
	if err := b.client.Subscribe(b.topic, 1, b.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe outcome topic: %w", err)
	}
	b.logger.Info("Subscribed to config outcome topic", zap.String("topic", b.topic))
	return nil
}

func (b *OutcomeBroker) handleMessage(topic string, payload []byte) error {
	var msg OutcomeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logger.Warn("Invalid outcome message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	req := service.ReportOutcomeRequest{
		HistoryID:    msg.HistoryID,
		Success:      msg.Success,
		ErrorMessage: msg.ErrorMessage,
	}
	if msg.AppliedAt > 0 {
		req.AppliedAt = time.Unix(msg.AppliedAt, 0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := b.reconcile.ReportOutcome(ctx, req); err != nil {
		// 重复回执/状态非法不值得重投，记日志即可
		b.logger.Warn("Failed to process device outcome",
			zap.Int64("history_id", msg.HistoryID),
			zap.Bool("success", msg.Success),
			zap.Error(err),
		)
	}
	return nil
}
