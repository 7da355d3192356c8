package repository

import (
	"context"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// DeviceFilters 设备查询过滤器
type DeviceFilters struct {
	DeviceType    string // 可选：设备类型
	PendingOnly   bool   // 可选：只看有未确认变更的设备
	SearchKeyword string // 可选：按 device_id 模糊搜索
}

// DevicesRepository 设备Repository接口
// 注意：config_version / config_pending / config_json 三元组只能经由
// HistoryRepository.RecordChange / MarkApplied 修改，这里不提供直接写入
type DevicesRepository interface {
	// GetDevice 获取设备
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// ListDevices 查询设备列表（支持分页、过滤）
	ListDevices(ctx context.Context, filters DeviceFilters, page, size int) ([]*domain.Device, int, error)

	// CreateDevice 注册新设备（初始 config_version=0，config_json=出厂默认）
	CreateDevice(ctx context.Context, device *domain.Device) error

	// CountDevicesUsingProfile 统计当前配置来源于某 profile 的设备数（删除保护用）
	CountDevicesUsingProfile(ctx context.Context, profileID string) (int, error)
}
