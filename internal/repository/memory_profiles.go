package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// MemoryProfilesRepository 内存配置模板Repository
type MemoryProfilesRepository struct {
	mu       sync.RWMutex
	profiles map[string]*domain.ConfigProfile
}

// NewMemoryProfilesRepository 创建内存配置模板Repository
func NewMemoryProfilesRepository() *MemoryProfilesRepository {
	return &MemoryProfilesRepository{
		profiles: make(map[string]*domain.ConfigProfile),
	}
}

// 确保实现了接口
var _ ProfilesRepository = (*MemoryProfilesRepository)(nil)

func cloneProfile(p *domain.ConfigProfile) *domain.ConfigProfile {
	out := *p
	out.ConfigJSON = append([]byte(nil), p.ConfigJSON...)
	return &out
}

func profileScope(p *domain.ConfigProfile) string {
	if p.IsUniversal() {
		return ""
	}
	return p.DeviceType.String
}

// GetProfile 获取配置模板
func (r *MemoryProfilesRepository) GetProfile(ctx context.Context, profileID string) (*domain.ConfigProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[profileID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "profile", ID: profileID}
	}
	return cloneProfile(p), nil
}

// ListProfiles 查询配置模板列表
func (r *MemoryProfilesRepository) ListProfiles(ctx context.Context, filters ProfileFilters, page, size int) ([]*domain.ConfigProfile, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.ConfigProfile
	for _, p := range r.profiles {
		if filters.DeviceType != "" {
			if p.IsUniversal() {
				if !filters.IncludeUniversal {
					continue
				}
			} else if p.DeviceType.String != filters.DeviceType {
				continue
			}
		}
		if filters.DefaultOnly && !p.IsDefault {
			continue
		}
		matched = append(matched, cloneProfile(p))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*domain.ConfigProfile{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// CreateProfile 创建配置模板
func (r *MemoryProfilesRepository) CreateProfile(ctx context.Context, profile *domain.ConfigProfile) (string, error) {
	if profile.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	if len(profile.ConfigJSON) == 0 {
		return "", fmt.Errorf("config_json is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// UNIQUE(name, device_type)
	for _, existing := range r.profiles {
		if existing.Name == profile.Name && profileScope(existing) == profileScope(profile) {
			return "", fmt.Errorf("profile name %q already exists for this device type", profile.Name)
		}
	}

	p := cloneProfile(profile)
	p.ID = uuid.NewString()
	p.IsDefault = false
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.profiles[p.ID] = p
	return p.ID, nil
}

// UpdateProfile 更新配置模板
func (r *MemoryProfilesRepository) UpdateProfile(ctx context.Context, profileID string, profile *domain.ConfigProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.profiles[profileID]
	if !ok {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	for id, other := range r.profiles {
		if id == profileID {
			continue
		}
		if other.Name == profile.Name && profileScope(other) == profileScope(profile) {
			return fmt.Errorf("profile name %q already exists for this device type", profile.Name)
		}
	}

	existing.Name = profile.Name
	existing.DeviceType = profile.DeviceType
	existing.ConfigJSON = append([]byte(nil), profile.ConfigJSON...)
	existing.UpdatedAt = time.Now()
	return nil
}

// DeleteProfile 删除配置模板
func (r *MemoryProfilesRepository) DeleteProfile(ctx context.Context, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profileID]; !ok {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}
	delete(r.profiles, profileID)
	return nil
}

// SetDefault 将模板设为其 device_type 分区的默认（清旧+设新在同一临界区内）
func (r *MemoryProfilesRepository) SetDefault(ctx context.Context, profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.profiles[profileID]
	if !ok {
		return &domain.NotFoundError{Kind: "profile", ID: profileID}
	}

	scope := profileScope(target)
	for _, p := range r.profiles {
		if profileScope(p) == scope && p.IsDefault {
			p.IsDefault = false
			p.UpdatedAt = time.Now()
		}
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now()
	return nil
}

// GetDefaultForType 取某设备类型的默认模板（类型分区优先，其次通用分区）
func (r *MemoryProfilesRepository) GetDefaultForType(ctx context.Context, deviceType string) (*domain.ConfigProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var universal *domain.ConfigProfile
	for _, p := range r.profiles {
		if !p.IsDefault {
			continue
		}
		if !p.IsUniversal() && p.DeviceType.String == deviceType {
			return cloneProfile(p), nil
		}
		if p.IsUniversal() {
			universal = p
		}
	}
	if universal != nil {
		return cloneProfile(universal), nil
	}
	return nil, &domain.NotFoundError{Kind: "profile", ID: "default:" + deviceType}
}
