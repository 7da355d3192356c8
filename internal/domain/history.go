package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ChangeType 变更来源
type ChangeType string

const (
	ChangeManual   ChangeType = "manual"   // 操作员手动编辑
	ChangeProfile  ChangeType = "profile"  // 套用配置模板
	ChangeRollback ChangeType = "rollback" // 回滚到历史版本（以新的前向变更表达）
	ChangeReset    ChangeType = "reset"    // 恢复出厂默认
	ChangeRetry    ChangeType = "retry"    // 重试失败的变更
)

// ApplicationStatus 变更的设备端应用状态
// 存储层保留源系统的 nullable boolean 列（applied_successfully），
// 领域层显式建模为三态，非法的 retry/rollback 在边界处就能拦下
type ApplicationStatus string

const (
	StatusPending ApplicationStatus = "pending" // 尚未收到设备回报
	StatusApplied ApplicationStatus = "applied" // 设备确认生效（终态）
	StatusFailed  ApplicationStatus = "failed"  // 设备回报失败（终态，可派生 retry）
)

// StatusFromNullBool applied_successfully 列 → 显式状态
func StatusFromNullBool(b sql.NullBool) ApplicationStatus {
	if !b.Valid {
		return StatusPending
	}
	if b.Bool {
		return StatusApplied
	}
	return StatusFailed
}

// NullBool 显式状态 → applied_successfully 列
func (s ApplicationStatus) NullBool() sql.NullBool {
	switch s {
	case StatusApplied:
		return sql.NullBool{Bool: true, Valid: true}
	case StatusFailed:
		return sql.NullBool{Bool: false, Valid: true}
	}
	return sql.NullBool{}
}

// ConfigHistory 配置变更账本条目（对应 device_config_history 表）
// 追加写入；status 进入终态后除 retried_by 回链外不再修改
// 这是"设备应当运行什么配置、何时实际生效"的唯一事实来源
type ConfigHistory struct {
	ID              int64             `db:"id"`      // BIGSERIAL, 单调递增
	DeviceID        string            `db:"device_id"`
	Version         int               `db:"version"` // 本条变更产生的 config_version
	ChangedBy       string            `db:"changed_by"`
	ChangeType      ChangeType        `db:"change_type"`
	ConfigBefore    json.RawMessage   `db:"config_before"` // nullable, 变更前快照
	ConfigAfter     json.RawMessage   `db:"config_after"`  // NOT NULL, 变更后快照
	ChangesSummary  string            `db:"changes_summary"`
	Status          ApplicationStatus `db:"-"` // 由 applied_successfully 映射
	AppliedAt       sql.NullTime      `db:"applied_at"`
	ErrorMessage    sql.NullString    `db:"error_message"`
	SourceHistoryID sql.NullInt64     `db:"source_history_id"` // rollback/retry 的来源记录
	RetriedBy       sql.NullInt64     `db:"retried_by"`        // 失败后派生的 retry 记录回链
	CreatedAt       time.Time         `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (h *ConfigHistory) ToJSON() map[string]any {
	m := map[string]any{
		"id":              h.ID,
		"device_id":       h.DeviceID,
		"version":         h.Version,
		"changed_by":      h.ChangedBy,
		"change_type":     string(h.ChangeType),
		"changes_summary": h.ChangesSummary,
		"status":          string(h.Status),
		"created_at":      h.CreatedAt,
	}
	if len(h.ConfigBefore) > 0 {
		var before any
		_ = json.Unmarshal(h.ConfigBefore, &before)
		m["config_before"] = before
	} else {
		m["config_before"] = nil
	}
	var after any
	_ = json.Unmarshal(h.ConfigAfter, &after)
	m["config_after"] = after
	if h.AppliedAt.Valid {
		m["applied_at"] = h.AppliedAt.Time
	} else {
		m["applied_at"] = nil
	}
	if h.ErrorMessage.Valid {
		m["error_message"] = h.ErrorMessage.String
	}
	if h.SourceHistoryID.Valid {
		m["source_history_id"] = h.SourceHistoryID.Int64
	}
	if h.RetriedBy.Valid {
		m["retried_by"] = h.RetriedBy.Int64
	}
	return m
}
