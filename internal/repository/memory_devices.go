package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// MemoryDevicesRepository 内存设备Repository（DB 未就绪时的联测/单测用）
// 每设备一把锁，与 Postgres 实现的行锁语义对齐
type MemoryDevicesRepository struct {
	mu      sync.RWMutex
	devices map[string]*domain.Device
	locks   map[string]*sync.Mutex
}

// NewMemoryDevicesRepository 创建内存设备Repository
func NewMemoryDevicesRepository() *MemoryDevicesRepository {
	return &MemoryDevicesRepository{
		devices: make(map[string]*domain.Device),
		locks:   make(map[string]*sync.Mutex),
	}
}

// 确保实现了接口
var _ DevicesRepository = (*MemoryDevicesRepository)(nil)

// lockFor 取设备级互斥锁（RecordChange/MarkApplied 的串行区入口）
func (r *MemoryDevicesRepository) lockFor(deviceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[deviceID] = l
	}
	return l
}

func cloneDevice(d *domain.Device) *domain.Device {
	out := *d
	out.ConfigJSON = append([]byte(nil), d.ConfigJSON...)
	return &out
}

// GetDevice 获取设备
func (r *MemoryDevicesRepository) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "device", ID: deviceID}
	}
	return cloneDevice(d), nil
}

// ListDevices 查询设备列表
func (r *MemoryDevicesRepository) ListDevices(ctx context.Context, filters DeviceFilters, page, size int) ([]*domain.Device, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Device
	for _, d := range r.devices {
		if filters.DeviceType != "" && d.DeviceType != filters.DeviceType {
			continue
		}
		if filters.PendingOnly && !d.ConfigPending {
			continue
		}
		if filters.SearchKeyword != "" && !strings.Contains(strings.ToLower(d.DeviceID), strings.ToLower(filters.SearchKeyword)) {
			continue
		}
		matched = append(matched, cloneDevice(d))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].DeviceID < matched[j].DeviceID })

	total := len(matched)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*domain.Device{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// CreateDevice 注册新设备
func (r *MemoryDevicesRepository) CreateDevice(ctx context.Context, device *domain.Device) error {
	if device.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if device.DeviceType == "" {
		return fmt.Errorf("device_type is required")
	}
	if len(device.ConfigJSON) == 0 {
		return fmt.Errorf("config_json is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[device.DeviceID]; exists {
		return fmt.Errorf("device %s already exists", device.DeviceID)
	}

	d := cloneDevice(device)
	d.ConfigVersion = 0
	d.ConfigPending = false
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.devices[device.DeviceID] = d
	return nil
}

// CountDevicesUsingProfile 统计当前配置来源于某 profile 的设备数
func (r *MemoryDevicesRepository) CountDevicesUsingProfile(ctx context.Context, profileID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, d := range r.devices {
		if d.ProfileID.Valid && d.ProfileID.String == profileID {
			count++
		}
	}
	return count, nil
}

// applyChange 账本写入路径使用：覆盖版本/文档/pending/模板来源
// 调用方必须已持有 lockFor(deviceID)
func (r *MemoryDevicesRepository) applyChange(deviceID string, version int, configJSON []byte, profileID sql.NullString) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return &domain.NotFoundError{Kind: "device", ID: deviceID}
	}
	d.ConfigVersion = version
	d.ConfigPending = true
	d.ConfigJSON = append([]byte(nil), configJSON...)
	d.ProfileID = profileID
	d.UpdatedAt = time.Now()
	return nil
}

// clearPendingIfVersion 仅当设备仍处于该版本时清 pending
func (r *MemoryDevicesRepository) clearPendingIfVersion(deviceID string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return
	}
	if d.ConfigVersion == version {
		d.ConfigPending = false
		d.UpdatedAt = time.Now()
	}
}

// currentVersion 读取当前版本（调用方必须已持有 lockFor(deviceID)）
func (r *MemoryDevicesRepository) currentVersion(deviceID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return 0, &domain.NotFoundError{Kind: "device", ID: deviceID}
	}
	return d.ConfigVersion, nil
}
