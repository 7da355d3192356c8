package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/config"
)

// GatewayEvent 推送给 fleet gateway 的 pending 事件
type GatewayEvent struct {
	Event     string `json:"event"`
	DeviceID  string `json:"device_id"`
	HistoryID int64  `json:"history_id"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// GatewayClient 运维侧 fleet gateway 通知客户端
// 实现 Notifier：pending 变更落账后 POST 一条事件；纯提示性，
// 失败只记日志（设备以轮询拉取为准）
type GatewayClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewGatewayClient 创建 gateway 客户端
func NewGatewayClient(cfg *config.GatewayConfig, logger *zap.Logger) *GatewayClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &GatewayClient{
		httpClient: client,
		logger:     logger,
	}
}

// 确保实现了接口
var _ Notifier = (*GatewayClient)(nil)

// NotifyPending 推送 pending 事件
func (c *GatewayClient) NotifyPending(ctx context.Context, deviceID string, historyID int64, version int) {
	event := GatewayEvent{
		Event:     "config.pending",
		DeviceID:  deviceID,
		HistoryID: historyID,
		Version:   version,
		Timestamp: time.Now().Unix(),
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post("/events/config-pending")
	if err != nil {
		c.logger.Warn("Gateway notify failed",
			zap.String("device_id", deviceID),
			zap.Int64("history_id", historyID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		c.logger.Warn("Gateway notify rejected",
			zap.String("device_id", deviceID),
			zap.Int64("history_id", historyID),
			zap.Int("status_code", resp.StatusCode()),
		)
	}
}
