package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Device 设备领域模型（对应 devices 表）
// device_id 外部分配、稳定不变；config_version 单调递增，只能由
// HistoryRepository.RecordChange 在每设备串行区内 +1
type Device struct {
	DeviceID      string          `db:"device_id"`      // PRIMARY KEY, 外部分配
	DeviceType    string          `db:"device_type"`    // NOT NULL, 决定 profile 兼容性
	ConfigVersion int             `db:"config_version"` // NOT NULL, 从 0 开始
	ConfigPending bool            `db:"config_pending"` // NOT NULL, 最新版本未被设备确认时为 true
	ConfigJSON    json.RawMessage `db:"config_json"`    // JSONB, NOT NULL, 当前生效配置
	ProfileID     sql.NullString  `db:"profile_id"`     // nullable, 当前配置的模板来源（信息性链接，非强约束）
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *Device) ToJSON() map[string]any {
	var cfg any
	if len(d.ConfigJSON) > 0 {
		_ = json.Unmarshal(d.ConfigJSON, &cfg)
	}
	m := map[string]any{
		"device_id":      d.DeviceID,
		"device_type":    d.DeviceType,
		"config_version": d.ConfigVersion,
		"config_pending": d.ConfigPending,
		"config":         cfg,
		"created_at":     d.CreatedAt,
		"updated_at":     d.UpdatedAt,
	}
	if d.ProfileID.Valid {
		m["profile_id"] = d.ProfileID.String
	} else {
		m["profile_id"] = nil
	}
	return m
}
