package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
	"github.com/NjCayao/safetySystem-sub000/internal/domain"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
	"github.com/NjCayao/safetySystem-sub000/internal/schema"
)

// RolloutService 模板下发/复制/重置服务接口
type RolloutService interface {
	// 单设备套用模板
	ApplyProfile(ctx context.Context, req ApplyProfileRequest) (*ApplyProfileResponse, error)
	// 批量套用模板（worker 池并发，逐设备独立成败）
	ApplyProfileBulk(ctx context.Context, req ApplyProfileBulkRequest) (*BulkResult, error)
	// 复制一台设备的配置到一批目标设备（逐目标独立成败）
	DuplicateConfig(ctx context.Context, req DuplicateConfigRequest) (*BulkResult, error)
	// 重置为默认（优先默认模板，无则出厂默认文档）
	ResetToDefault(ctx context.Context, req ResetToDefaultRequest) (*domain.ConfigHistory, error)
}

// rolloutService 实现
type rolloutService struct {
	devicesRepo  repository.DevicesRepository
	profilesRepo repository.ProfilesRepository
	historyRepo  repository.HistoryRepository
	rules        schema.Schema
	cache        *DesiredCache
	notifiers    []Notifier
	bulkWorkers  int
	logger       *zap.Logger
}

// NewRolloutService 创建 RolloutService 实例
func NewRolloutService(
	devicesRepo repository.DevicesRepository,
	profilesRepo repository.ProfilesRepository,
	historyRepo repository.HistoryRepository,
	rules schema.Schema,
	cache *DesiredCache,
	notifiers []Notifier,
	bulkWorkers int,
	logger *zap.Logger,
) RolloutService {
	if bulkWorkers <= 0 {
		bulkWorkers = 8
	}
	return &rolloutService{
		devicesRepo:  devicesRepo,
		profilesRepo: profilesRepo,
		historyRepo:  historyRepo,
		rules:        rules,
		cache:        cache,
		notifiers:    notifiers,
		bulkWorkers:  bulkWorkers,
		logger:       logger,
	}
}

// ApplyProfileRequest 单设备套用模板请求
type ApplyProfileRequest struct {
	ProfileID string
	DeviceID  string
	Actor     string
	Force     bool // 覆盖类型不匹配与"已是该模板"检查
}

// ApplyProfileResponse 单设备套用模板响应
// Skipped=true 表示设备已运行该模板，本次未落账
type ApplyProfileResponse struct {
	Record     *domain.ConfigHistory
	Skipped    bool
	SkipReason string
}

// ApplyProfile 单设备套用模板
func (s *rolloutService) ApplyProfile(ctx context.Context, req ApplyProfileRequest) (*ApplyProfileResponse, error) {
	// 1. 参数验证
	if req.ProfileID == "" {
		return nil, fmt.Errorf("profile_id is required")
	}
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	profile, err := s.profilesRepo.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}

	out := s.applyOne(ctx, profile, req.DeviceID, req.Actor, req.Force)
	if out.err != nil {
		return nil, out.err
	}
	return &ApplyProfileResponse{
		Record:     out.record,
		Skipped:    out.skipped,
		SkipReason: out.skipReason,
	}, nil
}

// applyOutcome 单设备套用的内部结果（单路径与批量路径共用）
type applyOutcome struct {
	record     *domain.ConfigHistory
	skipped    bool
	skipReason string
	err        error
}

// applyOne 套用模板到单台设备
// 流程：兼容性检查 → 已运行检查 → 分区合并 → 校验 → 落账 → 出站
func (s *rolloutService) applyOne(ctx context.Context, profile *domain.ConfigProfile, deviceID, actor string, force bool) applyOutcome {
	device, err := s.devicesRepo.GetDevice(ctx, deviceID)
	if err != nil {
		return applyOutcome{err: err}
	}

	// 2. 兼容性检查
	compat := CanApply(profile, device, force)
	if !compat.Allowed {
		return applyOutcome{err: &domain.IncompatibleTypeError{
			ProfileType: profile.DeviceType.String,
			DeviceType:  device.DeviceType,
		}}
	}

	// 3. 已运行该模板则跳过（force 可强制重推）
	if !force && AlreadyRunning(profile, device) {
		return applyOutcome{
			skipped:    true,
			skipReason: fmt.Sprintf("device already running profile %s", profile.ID),
		}
	}

	// 4. 模板片段覆盖命中的分区，未命中分区保留设备现值
	before, err := configdoc.FromJSON(device.ConfigJSON)
	if err != nil {
		return applyOutcome{err: fmt.Errorf("failed to parse current config: %w", err)}
	}
	fragment, err := configdoc.FromJSON(profile.ConfigJSON)
	if err != nil {
		return applyOutcome{err: fmt.Errorf("failed to parse profile config: %w", err)}
	}
	after := configdoc.MergeSections(before, fragment)

	// 5. 合并结果整体校验
	if fieldErrs := s.rules.Validate(after); len(fieldErrs) > 0 {
		return applyOutcome{err: &domain.ValidationError{Fields: fieldErrs}}
	}

	changes := configdoc.Diff(before, after)
	summary := fmt.Sprintf("applied profile %q: %s", profile.Name, configdoc.Summarize(changes))
	if compat.Forced {
		summary = fmt.Sprintf("%s (forced: %s)", summary, compat.Reason)
	}

	afterJSON, err := after.ToJSON()
	if err != nil {
		return applyOutcome{err: err}
	}

	// 6. 落账（记录模板来源）
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:       deviceID,
		ChangedBy:      actor,
		ChangeType:     domain.ChangeProfile,
		ConfigBefore:   device.ConfigJSON,
		ConfigAfter:    afterJSON,
		ChangesSummary: summary,
	}, sql.NullString{String: profile.ID, Valid: true})
	if err != nil {
		return applyOutcome{err: fmt.Errorf("failed to record profile apply: %w", err)}
	}

	// 7. 出站
	if len(changes) > 0 {
		s.cache.Refresh(ctx, deviceID, rec)
		for _, n := range s.notifiers {
			n.NotifyPending(ctx, deviceID, rec.ID, rec.Version)
		}
	}

	s.logger.Info("Profile applied",
		zap.String("device_id", deviceID),
		zap.String("profile_id", profile.ID),
		zap.Int("version", rec.Version),
		zap.Bool("forced", compat.Forced),
	)

	return applyOutcome{record: rec}
}

// ApplyProfileBulkRequest 批量套用模板请求
type ApplyProfileBulkRequest struct {
	ProfileID string
	DeviceIDs []string
	Actor     string
	Force     bool
}

// DeviceOutcome 批量下发中单台设备的结果
type DeviceOutcome struct {
	DeviceID   string `json:"device_id"`
	Status     string `json:"status"` // ok / skipped / error
	HistoryID  int64  `json:"history_id,omitempty"`
	Version    int    `json:"version,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BulkResult 批量下发汇总
type BulkResult struct {
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	SkippedCount int             `json:"skipped_count"`
	ErrorCount   int             `json:"error_count"`
	PerDevice    []DeviceOutcome `json:"per_device"`
}

// fanOut worker 池并发对每台设备执行 fn，按请求顺序汇总
// 类型不匹配在批量语义下计 skipped 而非 error：
// 批量操作只覆盖兼容设备，不兼容是预期内的筛除（单设备路径仍然报错）
func (s *rolloutService) fanOut(deviceIDs []string, fn func(deviceID string) applyOutcome) *BulkResult {
	outcomes := make([]DeviceOutcome, len(deviceIDs))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := s.bulkWorkers
	if workers > len(deviceIDs) {
		workers = len(deviceIDs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				deviceID := deviceIDs[i]
				out := fn(deviceID)
				var incompatible *domain.IncompatibleTypeError
				switch {
				case out.err != nil && errors.As(out.err, &incompatible):
					outcomes[i] = DeviceOutcome{DeviceID: deviceID, Status: "skipped", SkipReason: out.err.Error()}
				case out.err != nil:
					outcomes[i] = DeviceOutcome{DeviceID: deviceID, Status: "error", Error: out.err.Error()}
				case out.skipped:
					outcomes[i] = DeviceOutcome{DeviceID: deviceID, Status: "skipped", SkipReason: out.skipReason}
				default:
					outcomes[i] = DeviceOutcome{
						DeviceID:  deviceID,
						Status:    "ok",
						HistoryID: out.record.ID,
						Version:   out.record.Version,
					}
				}
			}
		}()
	}
	for i := range deviceIDs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := &BulkResult{Total: len(deviceIDs), PerDevice: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case "ok":
			result.SuccessCount++
		case "skipped":
			result.SkippedCount++
		default:
			result.ErrorCount++
		}
	}
	return result
}

// ApplyProfileBulk 批量套用模板
// 逐设备独立成败：类型不匹配/校验失败只影响该设备，不中断整批
func (s *rolloutService) ApplyProfileBulk(ctx context.Context, req ApplyProfileBulkRequest) (*BulkResult, error) {
	// 1. 参数验证
	if req.ProfileID == "" {
		return nil, fmt.Errorf("profile_id is required")
	}
	if len(req.DeviceIDs) == 0 {
		return nil, fmt.Errorf("device_ids is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	profile, err := s.profilesRepo.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}

	// 2. worker 池并发下发（每设备的串行化由账本层保证）
	result := s.fanOut(req.DeviceIDs, func(deviceID string) applyOutcome {
		return s.applyOne(ctx, profile, deviceID, req.Actor, req.Force)
	})

	s.logger.Info("Bulk profile apply finished",
		zap.String("profile_id", req.ProfileID),
		zap.Int("total", result.Total),
		zap.Int("success", result.SuccessCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("errors", result.ErrorCount),
	)

	return result, nil
}

// DuplicateConfigRequest 复制配置请求
type DuplicateConfigRequest struct {
	SourceDeviceID  string
	TargetDeviceIDs []string
	Actor           string
	Force           bool // 覆盖源/目标类型不一致
}

// DuplicateConfig 将源设备当前配置整体复制到一批目标设备
// 与批量下发同一套汇总语义：逐目标独立成败，类型不匹配计 skipped
func (s *rolloutService) DuplicateConfig(ctx context.Context, req DuplicateConfigRequest) (*BulkResult, error) {
	// 1. 参数验证
	if req.SourceDeviceID == "" {
		return nil, fmt.Errorf("source_device_id is required")
	}
	if len(req.TargetDeviceIDs) == 0 {
		return nil, fmt.Errorf("target_device_ids is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	for _, id := range req.TargetDeviceIDs {
		if id == req.SourceDeviceID {
			return nil, fmt.Errorf("source device cannot be its own target")
		}
	}

	source, err := s.devicesRepo.GetDevice(ctx, req.SourceDeviceID)
	if err != nil {
		return nil, err
	}

	// 2. 复制的是源设备快照，同样需要过校验（源可能是旧规则下写入的）
	doc, err := configdoc.FromJSON(source.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source config: %w", err)
	}
	if fieldErrs := s.rules.Validate(doc); len(fieldErrs) > 0 {
		return nil, &domain.ValidationError{Fields: fieldErrs}
	}

	// 3. 逐目标复制
	result := s.fanOut(req.TargetDeviceIDs, func(targetID string) applyOutcome {
		return s.duplicateOne(ctx, source, doc, targetID, req.Actor, req.Force)
	})

	s.logger.Info("Config duplicated",
		zap.String("source", req.SourceDeviceID),
		zap.Int("targets", result.Total),
		zap.Int("success", result.SuccessCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("errors", result.ErrorCount),
	)

	return result, nil
}

// duplicateOne 复制源设备快照到单台目标设备
func (s *rolloutService) duplicateOne(ctx context.Context, source *domain.Device, sourceDoc configdoc.Document, targetID, actor string, force bool) applyOutcome {
	target, err := s.devicesRepo.GetDevice(ctx, targetID)
	if err != nil {
		return applyOutcome{err: err}
	}

	// 类型检查（force 可覆盖）
	if source.DeviceType != target.DeviceType && !force {
		return applyOutcome{err: &domain.IncompatibleTypeError{
			ProfileType: source.DeviceType,
			DeviceType:  target.DeviceType,
		}}
	}

	before, err := configdoc.FromJSON(target.ConfigJSON)
	if err != nil {
		return applyOutcome{err: fmt.Errorf("failed to parse target config: %w", err)}
	}
	changes := configdoc.Diff(before, sourceDoc)
	summary := fmt.Sprintf("duplicated config from device %s: %s",
		source.DeviceID, configdoc.Summarize(changes))

	// 落账（复制不继承源设备的模板来源）
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:       targetID,
		ChangedBy:      actor,
		ChangeType:     domain.ChangeManual,
		ConfigBefore:   target.ConfigJSON,
		ConfigAfter:    source.ConfigJSON,
		ChangesSummary: summary,
	}, sql.NullString{})
	if err != nil {
		return applyOutcome{err: fmt.Errorf("failed to record config duplication: %w", err)}
	}

	if len(changes) > 0 {
		s.cache.Refresh(ctx, targetID, rec)
		for _, n := range s.notifiers {
			n.NotifyPending(ctx, targetID, rec.ID, rec.Version)
		}
	}

	return applyOutcome{record: rec}
}

// ResetToDefaultRequest 重置请求
type ResetToDefaultRequest struct {
	DeviceID string
	Actor    string
}

// ResetToDefault 重置设备配置
// 优先该类型的默认模板（含通用默认），没有则回落到出厂默认文档
func (s *rolloutService) ResetToDefault(ctx context.Context, req ResetToDefaultRequest) (*domain.ConfigHistory, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	device, err := s.devicesRepo.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	var after configdoc.Document
	var origin string
	if profile, err := s.profilesRepo.GetDefaultForType(ctx, device.DeviceType); err == nil {
		fragment, perr := configdoc.FromJSON(profile.ConfigJSON)
		if perr != nil {
			return nil, fmt.Errorf("failed to parse default profile: %w", perr)
		}
		// 默认模板可能只覆盖部分分区，其余分区回到出厂默认
		after = configdoc.MergeSections(schema.DefaultDocument(), fragment)
		origin = fmt.Sprintf("default profile %q", profile.Name)
	} else if domain.IsNotFound(err) {
		after = schema.DefaultDocument()
		origin = "factory defaults"
	} else {
		return nil, fmt.Errorf("failed to look up default profile: %w", err)
	}

	if fieldErrs := s.rules.Validate(after); len(fieldErrs) > 0 {
		return nil, &domain.ValidationError{Fields: fieldErrs}
	}

	before, err := configdoc.FromJSON(device.ConfigJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current config: %w", err)
	}
	changes := configdoc.Diff(before, after)
	summary := fmt.Sprintf("reset to %s: %s", origin, configdoc.Summarize(changes))

	afterJSON, err := after.ToJSON()
	if err != nil {
		return nil, err
	}

	// 重置清除模板来源链接（即使默认值来自默认模板，重置语义是"回到基线"）
	rec, err := s.historyRepo.RecordChange(ctx, &domain.ConfigHistory{
		DeviceID:       req.DeviceID,
		ChangedBy:      req.Actor,
		ChangeType:     domain.ChangeReset,
		ConfigBefore:   device.ConfigJSON,
		ConfigAfter:    afterJSON,
		ChangesSummary: summary,
	}, sql.NullString{})
	if err != nil {
		return nil, fmt.Errorf("failed to record config reset: %w", err)
	}

	if len(changes) > 0 {
		s.cache.Refresh(ctx, req.DeviceID, rec)
		for _, n := range s.notifiers {
			n.NotifyPending(ctx, req.DeviceID, rec.ID, rec.Version)
		}
	}

	s.logger.Info("Device config reset",
		zap.String("device_id", req.DeviceID),
		zap.String("origin", origin),
		zap.Int("version", rec.Version),
	)

	return rec, nil
}
