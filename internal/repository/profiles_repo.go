package repository

import (
	"context"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// ProfileFilters 配置模板查询过滤器
type ProfileFilters struct {
	DeviceType       string // 可选：按设备类型过滤
	IncludeUniversal bool   // 配合 DeviceType：是否包含通用模板
	DefaultOnly      bool   // 可选：只看默认模板
}

// ProfilesRepository 配置模板Repository接口
type ProfilesRepository interface {
	// GetProfile 获取配置模板
	GetProfile(ctx context.Context, profileID string) (*domain.ConfigProfile, error)

	// ListProfiles 查询配置模板列表（支持分页、过滤）
	ListProfiles(ctx context.Context, filters ProfileFilters, page, size int) ([]*domain.ConfigProfile, int, error)

	// CreateProfile 创建配置模板（name 在 device_type 作用域内唯一）
	CreateProfile(ctx context.Context, profile *domain.ConfigProfile) (string, error)

	// UpdateProfile 更新配置模板（名称/类型/模板文档，不含 is_default）
	UpdateProfile(ctx context.Context, profileID string, profile *domain.ConfigProfile) error

	// DeleteProfile 删除配置模板（调用方需先确认无设备引用）
	DeleteProfile(ctx context.Context, profileID string) error

	// SetDefault 将模板设为其 device_type 分区的默认
	// 清旧默认 + 设新默认必须是一个原子单元，避免出现 0 个或 2 个默认的窗口
	SetDefault(ctx context.Context, profileID string) error

	// GetDefaultForType 取某设备类型的默认模板
	// 优先类型分区，其次通用分区；都没有时返回 NotFoundError
	GetDefaultForType(ctx context.Context, deviceType string) (*domain.ConfigProfile, error)
}
