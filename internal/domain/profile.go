package domain

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ConfigProfile 配置模板领域模型（对应 device_config_profiles 表）
// name 在 device_type 作用域内唯一（包括 device_type 为空的"通用"作用域）
// 不变量：每个 device_type 分区（含通用分区）至多一个 is_default = true
type ConfigProfile struct {
	ID         string          `db:"id"`          // UUID, PRIMARY KEY
	Name       string          `db:"name"`        // NOT NULL, UNIQUE(name, device_type)
	DeviceType sql.NullString  `db:"device_type"` // nullable, NULL 表示通用（任意设备类型可用）
	IsDefault  bool            `db:"is_default"`  // NOT NULL, default false
	ConfigJSON json.RawMessage `db:"config_json"` // JSONB, NOT NULL, 模板文档
	CreatedBy  string          `db:"created_by"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// IsUniversal 是否通用模板（不限设备类型）
func (p *ConfigProfile) IsUniversal() bool {
	return !p.DeviceType.Valid || p.DeviceType.String == ""
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (p *ConfigProfile) ToJSON() map[string]any {
	var cfg any
	if len(p.ConfigJSON) > 0 {
		_ = json.Unmarshal(p.ConfigJSON, &cfg)
	}
	m := map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"is_default": p.IsDefault,
		"config":     cfg,
		"created_by": p.CreatedBy,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}
	if p.DeviceType.Valid {
		m["device_type"] = p.DeviceType.String
	} else {
		m["device_type"] = nil
	}
	return m
}
