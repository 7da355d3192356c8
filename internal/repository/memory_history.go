package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
)

// MemoryHistoryRepository 内存账本Repository
// 与设备Repository共享状态：版本分配和文档覆盖在设备锁的保护下进行，
// 语义与 Postgres 实现的 SELECT ... FOR UPDATE 一致
type MemoryHistoryRepository struct {
	mu      sync.RWMutex
	records map[int64]*domain.ConfigHistory
	nextID  int64
	devices *MemoryDevicesRepository
}

// NewMemoryHistoryRepository 创建内存账本Repository
func NewMemoryHistoryRepository(devices *MemoryDevicesRepository) *MemoryHistoryRepository {
	return &MemoryHistoryRepository{
		records: make(map[int64]*domain.ConfigHistory),
		nextID:  1,
		devices: devices,
	}
}

// 确保实现了接口
var _ HistoryRepository = (*MemoryHistoryRepository)(nil)

func cloneHistory(h *domain.ConfigHistory) *domain.ConfigHistory {
	out := *h
	out.ConfigBefore = append([]byte(nil), h.ConfigBefore...)
	out.ConfigAfter = append([]byte(nil), h.ConfigAfter...)
	return &out
}

// RecordChange 记录一次配置变更（设备锁内：分配版本、插入账本、覆盖文档）
func (r *MemoryHistoryRepository) RecordChange(ctx context.Context, rec *domain.ConfigHistory, profileID sql.NullString) (*domain.ConfigHistory, error) {
	if rec.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if len(rec.ConfigAfter) == 0 {
		return nil, fmt.Errorf("config_after is required")
	}

	// 每设备串行区入口
	lock := r.devices.lockFor(rec.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	currentVersion, err := r.devices.currentVersion(rec.DeviceID)
	if err != nil {
		return nil, err
	}

	out := cloneHistory(rec)
	out.Version = currentVersion + 1
	out.Status = domain.StatusPending
	out.CreatedAt = time.Now()

	r.mu.Lock()
	out.ID = r.nextID
	r.nextID++
	r.records[out.ID] = out
	r.mu.Unlock()

	if err := r.devices.applyChange(rec.DeviceID, out.Version, out.ConfigAfter, profileID); err != nil {
		// 设备在锁内消失属于逻辑错误；回收已插入的账本条目避免悬挂
		r.mu.Lock()
		delete(r.records, out.ID)
		r.mu.Unlock()
		return nil, err
	}

	return cloneHistory(out), nil
}

// GetHistory 获取单条账本记录
func (r *MemoryHistoryRepository) GetHistory(ctx context.Context, historyID int64) (*domain.ConfigHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[historyID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}
	return cloneHistory(rec), nil
}

// ListHistory 查询账本（deviceID 为空表示全部设备；按 created_at/id 倒序）
func (r *MemoryHistoryRepository) ListHistory(ctx context.Context, deviceID string, filters *HistoryFilters, page, size int) ([]*domain.ConfigHistory, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.ConfigHistory
	for _, rec := range r.records {
		if deviceID != "" && rec.DeviceID != deviceID {
			continue
		}
		if filters != nil {
			if filters.ChangeType != "" && string(rec.ChangeType) != filters.ChangeType {
				continue
			}
			if filters.Status != "" && string(rec.Status) != filters.Status {
				continue
			}
			if filters.StartTime != nil && rec.CreatedAt.Before(*filters.StartTime) {
				continue
			}
			if filters.EndTime != nil && rec.CreatedAt.After(*filters.EndTime) {
				continue
			}
		}
		matched = append(matched, cloneHistory(rec))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []*domain.ConfigHistory{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// MarkApplied pending → applied（仅当该记录仍是设备最新版本时才清 pending）
func (r *MemoryHistoryRepository) MarkApplied(ctx context.Context, historyID int64, appliedAt time.Time) error {
	deviceID, err := r.deviceIDOf(historyID)
	if err != nil {
		return err
	}

	lock := r.devices.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	rec, ok := r.records[historyID]
	if !ok {
		r.mu.Unlock()
		return &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}
	if rec.Status != domain.StatusPending {
		status := rec.Status
		r.mu.Unlock()
		return &domain.StateError{HistoryID: historyID, Status: status, Op: "mark applied"}
	}
	rec.Status = domain.StatusApplied
	rec.AppliedAt = sql.NullTime{Time: appliedAt, Valid: true}
	version := rec.Version
	r.mu.Unlock()

	r.devices.clearPendingIfVersion(deviceID, version)
	return nil
}

// MarkFailed pending → failed
func (r *MemoryHistoryRepository) MarkFailed(ctx context.Context, historyID int64, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[historyID]
	if !ok {
		return &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}
	if rec.Status != domain.StatusPending {
		return &domain.StateError{HistoryID: historyID, Status: rec.Status, Op: "mark failed"}
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = sql.NullString{String: errorMessage, Valid: true}
	return nil
}

// SetRetriedBy 在失败记录上补 retry 回链
func (r *MemoryHistoryRepository) SetRetriedBy(ctx context.Context, historyID, retryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[historyID]
	if !ok {
		return &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}
	rec.RetriedBy = sql.NullInt64{Int64: retryID, Valid: true}
	return nil
}

func (r *MemoryHistoryRepository) deviceIDOf(historyID int64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[historyID]
	if !ok {
		return "", &domain.NotFoundError{Kind: "history", ID: fmt.Sprintf("%d", historyID)}
	}
	return rec.DeviceID, nil
}
