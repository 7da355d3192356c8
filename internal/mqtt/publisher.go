package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/service"
)

// PendingHint 发布到 pending 提示主题的载荷
type PendingHint struct {
	DeviceID  string `json:"device_id"`
	HistoryID int64  `json:"history_id"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// PendingPublisher 通过 MQTT 向设备发布 pending 提示
// 实现 service.Notifier：提示只是加速设备拉取，丢失不影响正确性
type PendingPublisher struct {
	client      *Client
	topicPrefix string
	logger      *zap.Logger
}

// NewPendingPublisher 创建 pending 提示发布器
func NewPendingPublisher(client *Client, topicPrefix string, logger *zap.Logger) *PendingPublisher {
	return &PendingPublisher{
		client:      client,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

// 确保实现了接口
var _ service.Notifier = (*PendingPublisher)(nil)

// NotifyPending 发布提示到 <prefix>/<device_id>
func (p *PendingPublisher) NotifyPending(ctx context.Context, deviceID string, historyID int64, version int) {
	if !p.client.IsConnected() {
		p.logger.Warn("MQTT not connected, skipping pending hint",
			zap.String("device_id", deviceID),
		)
		return
	}

	hint := PendingHint{
		DeviceID:  deviceID,
		HistoryID: historyID,
		Version:   version,
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(hint)
	if err != nil {
		return
	}

	topic := p.topicPrefix + "/" + deviceID
	if err := p.client.Publish(topic, 1, false, payload); err != nil {
		p.logger.Warn("Failed to publish pending hint",
			zap.String("topic", topic),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("Pending hint published",
		zap.String("topic", topic),
		zap.Int64("history_id", historyID),
		zap.Int("version", version),
	)
}
