package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
)

// ReconcileService 设备回执/重试/回滚服务接口
type ReconcileService interface {
	// 设备上报某条变更的应用结果
	ReportOutcome(ctx context.Context, req ReportOutcomeRequest) error
	// 对失败记录重试（原样重发 config_after）
	RetryFailed(ctx context.Context, req RetryFailedRequest) (*domain.ConfigHistory, error)
	// 回滚到某条已生效记录的配置快照
	Rollback(ctx context.Context, req RollbackRequest) (*domain.ConfigHistory, error)
}

// reconcileService 实现
type reconcileService struct {
	devicesRepo repository.DevicesRepository
	historyRepo repository.HistoryRepository
	cache       *DesiredCache
	notifiers   []Notifier
	logger      *zap.Logger
}

// NewReconcileService 创建 ReconcileService 实例
func NewReconcileService(
	devicesRepo repository.DevicesRepository,
	historyRepo repository.HistoryRepository,
	cache *DesiredCache,
	notifiers []Notifier,
	logger *zap.Logger,
) ReconcileService {
	return &reconcileService{
		devicesRepo: devicesRepo,
		historyRepo: historyRepo,
		cache:       cache,
		notifiers:   notifiers,
		logger:      logger,
	}
}

// ReportOutcomeRequest 设备回执
type ReportOutcomeRequest struct {
	HistoryID    int64
	Success      bool
	ErrorMessage string    // 失败时必填
	AppliedAt    time.Time // 零值时取当前时间
}

// ReportOutcome 处理设备回执
// 成功：pending → applied（仅当记录仍是最新版本才清设备 pending 标记，
// 晚到的旧版本确认不会掩盖更新的未确认变更）；失败：pending → failed
func (s *reconcileService) ReportOutcome(ctx context.Context, req ReportOutcomeRequest) error {
	// 1. 参数验证
	if req.HistoryID <= 0 {
		return fmt.Errorf("history_id is required")
	}
	if !req.Success && req.ErrorMessage == "" {
		return fmt.Errorf("error_message is required for failed outcomes")
	}

	rec, err := s.historyRepo.GetHistory(ctx, req.HistoryID)
	if err != nil {
		return err
	}

	if req.Success {
		appliedAt := req.AppliedAt
		if appliedAt.IsZero() {
			appliedAt = time.Now()
		}
		if err := s.historyRepo.MarkApplied(ctx, req.HistoryID, appliedAt); err != nil {
			return err
		}
		s.cache.Invalidate(ctx, rec.DeviceID)
		s.logger.Info("Config change applied on device",
			zap.String("device_id", rec.DeviceID),
			zap.Int64("history_id", req.HistoryID),
			zap.Int("version", rec.Version),
		)
		return nil
	}

	if err := s.historyRepo.MarkFailed(ctx, req.HistoryID, req.ErrorMessage); err != nil {
		return err
	}
	s.logger.Warn("Config change failed on device",
		zap.String("device_id", rec.DeviceID),
		zap.Int64("history_id", req.HistoryID),
		zap.Int("version", rec.Version),
		zap.String("error", req.ErrorMessage),
	)
	return nil
}

// RetryFailedRequest 重试请求
type RetryFailedRequest struct {
	HistoryID int64 // 必须指向 failed 记录
	Actor     string
}

// RetryFailed 重试失败的变更
// 新记录原样携带失败记录的 config_after（不做重新合并），
// 并在原失败记录上补 retried_by 回链
func (s *reconcileService) RetryFailed(ctx context.Context, req RetryFailedRequest) (*domain.ConfigHistory, error) {
	// 1. 参数验证
	if req.HistoryID <= 0 {
		return nil, fmt.Errorf("history_id is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	source, err := s.historyRepo.GetHistory(ctx, req.HistoryID)
	if err != nil {
		return nil, err
	}

	// 2. 只允许重试 failed 记录
	if source.Status != domain.StatusFailed {
		return nil, &domain.StateError{HistoryID: req.HistoryID, Status: source.Status, Op: "retry"}
	}

	device, err := s.devicesRepo.GetDevice(ctx, source.DeviceID)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("retry of change #%d (v%d, failed: %s)",
		source.ID, source.Version, source.ErrorMessage.String)

	// 3. 落账（保留设备当前的模板来源链接：重试不改变配置出处）
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:        source.DeviceID,
		ChangedBy:       req.Actor,
		ChangeType:      domain.ChangeRetry,
		ConfigBefore:    device.ConfigJSON,
		ConfigAfter:     source.ConfigAfter,
		ChangesSummary:  summary,
		SourceHistoryID: sql.NullInt64{Int64: source.ID, Valid: true},
	}, device.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to record retry: %w", err)
	}

	// 4. 回链
	if err := s.historyRepo.SetRetriedBy(ctx, source.ID, rec.ID); err != nil {
		s.logger.Warn("Failed to link retry back to source record",
			zap.Int64("source_id", source.ID),
			zap.Int64("retry_id", rec.ID),
			zap.Error(err),
		)
	}

	// 5. 出站
	s.cache.Refresh(ctx, source.DeviceID, rec)
	for _, n := range s.notifiers {
		n.NotifyPending(ctx, source.DeviceID, rec.ID, rec.Version)
	}

	s.logger.Info("Failed change retried",
		zap.String("device_id", source.DeviceID),
		zap.Int64("source_id", source.ID),
		zap.Int64("retry_id", rec.ID),
		zap.Int("version", rec.Version),
	)

	return rec, nil
}

// RollbackRequest 回滚请求
type RollbackRequest struct {
	DeviceID  string
	HistoryID int64 // 必须指向该设备的 applied 记录
	Actor     string
}

// Rollback 回滚到历史版本
// 目标记录的 config_after 原样成为新记录的 config_after（不重新校验：
// 它曾在设备上生效过）；回滚清除模板来源链接
func (s *reconcileService) Rollback(ctx context.Context, req RollbackRequest) (*domain.ConfigHistory, error) {
	// 1. 参数验证
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if req.HistoryID <= 0 {
		return nil, fmt.Errorf("history_id is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	target, err := s.historyRepo.GetHistory(ctx, req.HistoryID)
	if err != nil {
		return nil, err
	}

	// 2. 目标必须属于该设备且已生效
	if target.DeviceID != req.DeviceID {
		return nil, fmt.Errorf("history record %d does not belong to device %s", req.HistoryID, req.DeviceID)
	}
	if target.Status != domain.StatusApplied {
		return nil, &domain.StateError{HistoryID: req.HistoryID, Status: target.Status, Op: "rollback"}
	}

	device, err := s.devicesRepo.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("rollback to v%d (change #%d)", target.Version, target.ID)

	// 3. 落账
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:        req.DeviceID,
		ChangedBy:       req.Actor,
		ChangeType:      domain.ChangeRollback,
		ConfigBefore:    device.ConfigJSON,
		ConfigAfter:     target.ConfigAfter,
		ChangesSummary:  summary,
		SourceHistoryID: sql.NullInt64{Int64: target.ID, Valid: true},
	}, sql.NullString{})
	if err != nil {
		return nil, fmt.Errorf("failed to record rollback: %w", err)
	}

	// 4. 出站
	s.cache.Refresh(ctx, req.DeviceID, rec)
	for _, n := range s.notifiers {
		n.NotifyPending(ctx, req.DeviceID, rec.ID, rec.Version)
	}

	s.logger.Info("Device config rolled back",
		zap.String("device_id", req.DeviceID),
		zap.Int64("target_id", target.ID),
		zap.Int("target_version", target.Version),
		zap.Int("new_version", rec.Version),
	)

	return rec, nil
}
