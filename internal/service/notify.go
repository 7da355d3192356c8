package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	"github.com/NjCayao/safetySystem-sub000/internal/store"
)

// Notifier pending 变更落账后的出站提示（MQTT 提示、gateway 事件等）
// 只是提示：设备仍以轮询拉取为准，提示丢失不影响正确性
type Notifier interface {
	NotifyPending(ctx context.Context, deviceID string, historyID int64, version int)
}

// NopNotifier 空实现
type NopNotifier struct{}

func (NopNotifier) NotifyPending(ctx context.Context, deviceID string, historyID int64, version int) {
}

// DesiredConfig agent 轮询端点的响应载荷（也是缓存值）
type DesiredConfig struct {
	DeviceID  string          `json:"device_id"`
	HistoryID int64           `json:"history_id"`
	Version   int             `json:"version"`
	Pending   bool            `json:"pending"`
	Config    json.RawMessage `json:"config"`
}

// DesiredCache 期望配置缓存（Redis；miss 时调用方回源数据库）
type DesiredCache struct {
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewDesiredCache 创建期望配置缓存
func NewDesiredCache(kv store.KV, logger *zap.Logger) *DesiredCache {
	return &DesiredCache{kv: kv, ttl: 10 * time.Minute, logger: logger}
}

func desiredKey(deviceID string) string {
	return "config:desired:" + deviceID
}

// Refresh 变更落账后刷新缓存（失败只记日志，轮询端点会回源）
func (c *DesiredCache) Refresh(ctx context.Context, deviceID string, rec *domain.ConfigHistory) {
	if c == nil || c.kv == nil {
		return
	}
	payload := DesiredConfig{
		DeviceID:  deviceID,
		HistoryID: rec.ID,
		Version:   rec.Version,
		Pending:   true,
		Config:    rec.ConfigAfter,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := c.kv.Set(ctx, desiredKey(deviceID), string(raw), c.ttl); err != nil {
		c.logger.Warn("Failed to refresh desired-config cache",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}

// Get 读取缓存的期望配置
func (c *DesiredCache) Get(ctx context.Context, deviceID string) (*DesiredConfig, bool) {
	if c == nil || c.kv == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, desiredKey(deviceID))
	if err != nil {
		if err != store.ErrMiss {
			c.logger.Warn("Failed to read desired-config cache",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
		return nil, false
	}
	var payload DesiredConfig
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

// Invalidate 删除缓存（设备确认生效后 pending 状态变化）
func (c *DesiredCache) Invalidate(ctx context.Context, deviceID string) {
	if c == nil || c.kv == nil {
		return
	}
	if err := c.kv.Delete(ctx, desiredKey(deviceID)); err != nil {
		c.logger.Warn("Failed to invalidate desired-config cache",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}
