package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
	"github.com/NjCayao/safetySystem-sub000/internal/schema"
)

// ConfigService 设备配置查询/手动编辑服务接口
type ConfigService interface {
	// 查询
	GetDeviceConfig(ctx context.Context, req GetDeviceConfigRequest) (*GetDeviceConfigResponse, error)
	ListDevices(ctx context.Context, req ListDevicesRequest) (*ListDevicesResponse, error)
	GetHistory(ctx context.Context, req GetHistoryRequest) (*GetHistoryResponse, error)
	GetValidationRules(ctx context.Context) (schema.Schema, error)
	GetDefaultConfig(ctx context.Context) (configdoc.Document, error)

	// 手动编辑（完整文档替换，校验通过后落账）
	UpdateDeviceConfig(ctx context.Context, req UpdateDeviceConfigRequest) (*UpdateDeviceConfigResponse, error)
}

// configService 实现
type configService struct {
	devicesRepo repository.DevicesRepository
	historyRepo repository.HistoryRepository
	rules       schema.Schema
	defaults    configdoc.Document
	cache       *DesiredCache
	notifiers   []Notifier
	logger      *zap.Logger
}

// NewConfigService 创建 ConfigService 实例
func NewConfigService(
	devicesRepo repository.DevicesRepository,
	historyRepo repository.HistoryRepository,
	rules schema.Schema,
	cache *DesiredCache,
	notifiers []Notifier,
	logger *zap.Logger,
) ConfigService {
	return &configService{
		devicesRepo: devicesRepo,
		historyRepo: historyRepo,
		rules:       rules,
		defaults:    schema.DefaultDocument(),
		cache:       cache,
		notifiers:   notifiers,
		logger:      logger,
	}
}

// GetDeviceConfigRequest 查询设备配置请求
type GetDeviceConfigRequest struct {
	DeviceID string // 必填
}

// GetDeviceConfigResponse 查询设备配置响应
type GetDeviceConfigResponse struct {
	Device *domain.Device
	Config configdoc.Document
}

// GetDeviceConfig 查询设备当前配置
func (s *configService) GetDeviceConfig(ctx context.Context, req GetDeviceConfigRequest) (*GetDeviceConfigResponse, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	device, err := s.devicesRepo.GetDevice(ctx, req.DeviceID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		s.logger.Error("GetDeviceConfig failed",
			zap.String("device_id", req.DeviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get device config: %w", err)
	}

	doc, err := configdoc.FromJSON(device.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device config: %w", err)
	}

	return &GetDeviceConfigResponse{Device: device, Config: doc}, nil
}

// ListDevicesRequest 查询设备列表请求
type ListDevicesRequest struct {
	DeviceType    string // 可选：设备类型过滤
	PendingOnly   bool   // 可选：只看有未确认变更的设备
	SearchKeyword string // 可选：按 device_id 模糊搜索
	Page          int    // 可选，默认 1
	Size          int    // 可选，默认 20
}

// ListDevicesResponse 查询设备列表响应
type ListDevicesResponse struct {
	Items []*domain.Device
	Total int
}

// ListDevices 查询设备列表
func (s *configService) ListDevices(ctx context.Context, req ListDevicesRequest) (*ListDevicesResponse, error) {
	filters := repository.DeviceFilters{
		DeviceType:    req.DeviceType,
		PendingOnly:   req.PendingOnly,
		SearchKeyword: req.SearchKeyword,
	}

	items, total, err := s.devicesRepo.ListDevices(ctx, filters, req.Page, req.Size)
	if err != nil {
		s.logger.Error("ListDevices failed", zap.Error(err))
		return nil, fmt.Errorf("failed to list devices")
	}

	return &ListDevicesResponse{Items: items, Total: total}, nil
}

// GetHistoryRequest 查询变更历史请求
type GetHistoryRequest struct {
	DeviceID string // 可选：为空表示全部设备
	Filters  *repository.HistoryFilters
	Page     int
	Size     int
}

// GetHistoryResponse 查询变更历史响应
type GetHistoryResponse struct {
	Items []*domain.ConfigHistory
	Total int
}

// GetHistory 查询变更历史
func (s *configService) GetHistory(ctx context.Context, req GetHistoryRequest) (*GetHistoryResponse, error) {
	items, total, err := s.historyRepo.ListHistory(ctx, req.DeviceID, req.Filters, req.Page, req.Size)
	if err != nil {
		s.logger.Error("GetHistory failed",
			zap.String("device_id", req.DeviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to get history")
	}

	return &GetHistoryResponse{Items: items, Total: total}, nil
}

// GetValidationRules 返回全部校验规则（前端据此渲染表单约束）
func (s *configService) GetValidationRules(ctx context.Context) (schema.Schema, error) {
	return s.rules, nil
}

// GetDefaultConfig 返回出厂默认配置文档
func (s *configService) GetDefaultConfig(ctx context.Context) (configdoc.Document, error) {
	return s.defaults.Clone(), nil
}

// UpdateDeviceConfigRequest 手动编辑请求（完整文档替换）
type UpdateDeviceConfigRequest struct {
	DeviceID string             // 必填
	Document configdoc.Document // 必填：新的完整配置文档
	Actor    string             // 必填：操作者
	Summary  string             // 可选：为空时根据 diff 自动生成
}

// UpdateDeviceConfigResponse 手动编辑响应
type UpdateDeviceConfigResponse struct {
	Record  *domain.ConfigHistory
	Changes []configdoc.Change
}

// UpdateDeviceConfig 手动编辑设备配置
// 校验失败整体拒绝、不落账；diff 为空也会落账（可追溯），但跳过设备通知
func (s *configService) UpdateDeviceConfig(ctx context.Context, req UpdateDeviceConfigRequest) (*UpdateDeviceConfigResponse, error) {
	// 1. 参数验证
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if req.Document == nil {
		return nil, fmt.Errorf("document is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	device, err := s.devicesRepo.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	// 2. 校验（收集全部违规，一次性拒绝）
	if fieldErrs := s.rules.Validate(req.Document); len(fieldErrs) > 0 {
		return nil, &domain.ValidationError{Fields: fieldErrs}
	}

	// 3. diff（审计摘要）
	before, err := configdoc.FromJSON(device.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current config: %w", err)
	}
	changes := configdoc.Diff(before, req.Document)

	summary := req.Summary
	if summary == "" {
		summary = configdoc.Summarize(changes)
	}

	afterJSON, err := req.Document.ToJSON()
	if err != nil {
		return nil, err
	}

	// 4. 落账（手动编辑清除模板来源链接）
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:       req.DeviceID,
		ChangedBy:      req.Actor,
		ChangeType:     domain.ChangeManual,
		ConfigBefore:   device.ConfigJSON,
		ConfigAfter:    afterJSON,
		ChangesSummary: summary,
	}, sql.NullString{})
	if err != nil {
		s.logger.Error("UpdateDeviceConfig failed",
			zap.String("device_id", req.DeviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record config change: %w", err)
	}

	// 5. 出站（空 diff 不打扰设备）
	if len(changes) > 0 {
		s.cache.Refresh(ctx, req.DeviceID, rec)
		for _, n := range s.notifiers {
			n.NotifyPending(ctx, req.DeviceID, rec.ID, rec.Version)
		}
	}

	s.logger.Info("Device config updated",
		zap.String("device_id", req.DeviceID),
		zap.String("actor", req.Actor),
		zap.Int("version", rec.Version),
		zap.Int("changes", len(changes)),
	)

	return &UpdateDeviceConfigResponse{Record: rec, Changes: changes}, nil
}
