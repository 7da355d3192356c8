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

// ProfileService 配置模板管理服务接口
type ProfileService interface {
	GetProfile(ctx context.Context, profileID string) (*domain.ConfigProfile, error)
	ListProfiles(ctx context.Context, req ListProfilesRequest) (*ListProfilesResponse, error)
	CreateProfile(ctx context.Context, req CreateProfileRequest) (*domain.ConfigProfile, error)
	UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*domain.ConfigProfile, error)
	DeleteProfile(ctx context.Context, profileID string) error
	SetDefault(ctx context.Context, profileID string) error
}

// profileService 实现
type profileService struct {
	profilesRepo repository.ProfilesRepository
	devicesRepo  repository.DevicesRepository
	rules        schema.Schema
	logger       *zap.Logger
}

// NewProfileService 创建 ProfileService 实例
func NewProfileService(
	profilesRepo repository.ProfilesRepository,
	devicesRepo repository.DevicesRepository,
	rules schema.Schema,
	logger *zap.Logger,
) ProfileService {
	return &profileService{
		profilesRepo: profilesRepo,
		devicesRepo:  devicesRepo,
		rules:        rules,
		logger:       logger,
	}
}

// GetProfile 获取配置模板
func (s *profileService) GetProfile(ctx context.Context, profileID string) (*domain.ConfigProfile, error) {
	if profileID == "" {
		return nil, fmt.Errorf("profile_id is required")
	}
	return s.profilesRepo.GetProfile(ctx, profileID)
}

// ListProfilesRequest 查询模板列表请求
type ListProfilesRequest struct {
	DeviceType       string // 可选：按设备类型过滤
	IncludeUniversal bool   // 过滤时是否包含通用模板
	DefaultOnly      bool   // 只看默认模板
	Page             int
	Size             int
}

// ListProfilesResponse 查询模板列表响应
type ListProfilesResponse struct {
	Items []*domain.ConfigProfile
	Total int
}

// ListProfiles 查询配置模板列表
func (s *profileService) ListProfiles(ctx context.Context, req ListProfilesRequest) (*ListProfilesResponse, error) {
	filters := repository.ProfileFilters{
		DeviceType:       req.DeviceType,
		IncludeUniversal: req.IncludeUniversal,
		DefaultOnly:      req.DefaultOnly,
	}

	items, total, err := s.profilesRepo.ListProfiles(ctx, filters, req.Page, req.Size)
	if err != nil {
		s.logger.Error("ListProfiles failed", zap.Error(err))
		return nil, fmt.Errorf("failed to list profiles")
	}

	return &ListProfilesResponse{Items: items, Total: total}, nil
}

// CreateProfileRequest 创建模板请求
type CreateProfileRequest struct {
	Name       string             // 必填，同 device_type 分区内唯一
	DeviceType string             // 可选：为空表示通用模板
	Document   configdoc.Document // 必填：模板配置片段（可以只含部分分区）
	CreatedBy  string             // 必填
}

// CreateProfile 创建配置模板（模板片段也走同一套校验规则）
func (s *profileService) CreateProfile(ctx context.Context, req CreateProfileRequest) (*domain.ConfigProfile, error) {
	// 1. 参数验证
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.Document == nil || len(req.Document) == 0 {
		return nil, fmt.Errorf("document is required")
	}
	if req.CreatedBy == "" {
		return nil, fmt.Errorf("created_by is required")
	}

	// 2. 校验模板片段
	if fieldErrs := s.rules.Validate(req.Document); len(fieldErrs) > 0 {
		return nil, &domain.ValidationError{Fields: fieldErrs}
	}

	raw, err := req.Document.ToJSON()
	if err != nil {
		return nil, err
	}

	profile := &domain.ConfigProfile{
		Name:       req.Name,
		DeviceType: nullString(req.DeviceType),
		ConfigJSON: raw,
		CreatedBy:  req.CreatedBy,
	}

	id, err := s.profilesRepo.CreateProfile(ctx, profile)
	if err != nil {
		s.logger.Error("CreateProfile failed",
			zap.String("name", req.Name),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Profile created",
		zap.String("profile_id", id),
		zap.String("name", req.Name),
		zap.String("device_type", req.DeviceType),
	)

	return s.profilesRepo.GetProfile(ctx, id)
}

// UpdateProfileRequest 更新模板请求
type UpdateProfileRequest struct {
	ProfileID  string
	Name       string
	DeviceType string
	Document   configdoc.Document
}

// UpdateProfile 更新配置模板
// 已套用该模板的设备不受影响（模板是施工图，不是实时绑定）
func (s *profileService) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*domain.ConfigProfile, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("profile_id is required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.Document == nil || len(req.Document) == 0 {
		return nil, fmt.Errorf("document is required")
	}

	if fieldErrs := s.rules.Validate(req.Document); len(fieldErrs) > 0 {
		return nil, &domain.ValidationError{Fields: fieldErrs}
	}

	raw, err := req.Document.ToJSON()
	if err != nil {
		return nil, err
	}

	err = s.profilesRepo.UpdateProfile(ctx, req.ProfileID, &domain.ConfigProfile{
		Name:       req.Name,
		DeviceType: nullString(req.DeviceType),
		ConfigJSON: raw,
	})
	if err != nil {
		return nil, err
	}

	return s.profilesRepo.GetProfile(ctx, req.ProfileID)
}

// DeleteProfile 删除配置模板
// 仍被设备引用（provenance 链接）的模板拒绝删除，避免审计链断裂
func (s *profileService) DeleteProfile(ctx context.Context, profileID string) error {
	if profileID == "" {
		return fmt.Errorf("profile_id is required")
	}

	count, err := s.devicesRepo.CountDevicesUsingProfile(ctx, profileID)
	if err != nil {
		s.logger.Error("DeleteProfile reference check failed",
			zap.String("profile_id", profileID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to check profile references: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("profile is in use by %d device(s)", count)
	}

	if err := s.profilesRepo.DeleteProfile(ctx, profileID); err != nil {
		return err
	}

	s.logger.Info("Profile deleted", zap.String("profile_id", profileID))
	return nil
}

// SetDefault 将模板设为其设备类型分区的默认模板
func (s *profileService) SetDefault(ctx context.Context, profileID string) error {
	if profileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if err := s.profilesRepo.SetDefault(ctx, profileID); err != nil {
		return err
	}
	s.logger.Info("Profile set as default", zap.String("profile_id", profileID))
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
