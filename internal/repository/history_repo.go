package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// HistoryFilters 变更历史查询过滤器
type HistoryFilters struct {
	ChangeType string     // 可选：变更来源（manual/profile/rollback/reset/retry）
	Status     string     // 可选：应用状态（pending/applied/failed）
	StartTime  *time.Time // 可选：created_at 下界
	EndTime    *time.Time // 可选：created_at 上界
}

// HistoryRepository 配置变更账本Repository接口
// RecordChange 是设备生效配置唯一的变更入口
type HistoryRepository interface {
	// RecordChange 记录一次配置变更
	// 在每设备串行区内完成：分配 version = config_version+1、插入 pending 账本条目、
	// 覆盖设备当前文档、置 config_pending=true、更新 profile 来源链接
	// 版本自增和文档覆盖必须原子，持久层故障不能留下半写状态
	RecordChange(ctx context.Context, rec *domain.ConfigHistory, profileID sql.NullString) (*domain.ConfigHistory, error)

	// GetHistory 获取单条账本记录
	GetHistory(ctx context.Context, historyID int64) (*domain.ConfigHistory, error)

	// ListHistory 查询账本（deviceID 为空表示全部设备；按 created_at 倒序）
	ListHistory(ctx context.Context, deviceID string, filters *HistoryFilters, page, size int) ([]*domain.ConfigHistory, int, error)

	// MarkApplied pending → applied
	// 仅当该记录仍是设备的最新版本时才清 config_pending
	// （迟到的确认不能清掉更新的、尚未确认的变更的 pending 标记）
	// 对非 pending 记录调用返回 StateError
	MarkApplied(ctx context.Context, historyID int64, appliedAt time.Time) error

	// MarkFailed pending → failed；对非 pending 记录调用返回 StateError
	MarkFailed(ctx context.Context, historyID int64, errorMessage string) error

	// SetRetriedBy 在失败记录上补 retry 回链（终态记录唯一允许的修改）
	SetRetriedBy(ctx context.Context, historyID, retryID int64) error
}
