package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
	"github.com/NjCayao/safetySystem-sub000/internal/repository"
	"github.com/NjCayao/safetySystem-sub000/internal/service"
)

// DeviceConfigHandler 设备配置管理 Handler
type DeviceConfigHandler struct {
	configService    service.ConfigService
	rolloutService   service.RolloutService
	reconcileService service.ReconcileService
	logger           *zap.Logger
}

// NewDeviceConfigHandler 创建设备配置管理 Handler
func NewDeviceConfigHandler(
	configService service.ConfigService,
	rolloutService service.RolloutService,
	reconcileService service.ReconcileService,
	logger *zap.Logger,
) *DeviceConfigHandler {
	return &DeviceConfigHandler{
		configService:    configService,
		rolloutService:   rolloutService,
		reconcileService: reconcileService,
		logger:           logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *DeviceConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// 路由分发
	switch {
	case path == "/config/api/v1/devices" && r.Method == http.MethodGet:
		h.ListDevices(w, r)
	case path == "/config/api/v1/rules" && r.Method == http.MethodGet:
		h.GetValidationRules(w, r)
	case path == "/config/api/v1/defaults" && r.Method == http.MethodGet:
		h.GetDefaultConfig(w, r)
	case path == "/config/api/v1/duplicate" && r.Method == http.MethodPost:
		h.DuplicateConfig(w, r)
	case path == "/config/api/v1/history" && r.Method == http.MethodGet:
		h.GetGlobalHistory(w, r)

	case strings.HasPrefix(path, "/config/api/v1/history/") && strings.HasSuffix(path, "/retry") && r.Method == http.MethodPost:
		h.RetryFailed(w, r)

	case strings.HasPrefix(path, "/config/api/v1/devices/"):
		h.serveDevice(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveDevice 分发 /config/api/v1/devices/{id}/... 子路由
func (h *DeviceConfigHandler) serveDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/config/api/v1/devices/")
	parts := strings.SplitN(rest, "/", 2)
	deviceID := parts[0]
	if deviceID == "" || len(parts) < 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case parts[1] == "config" && r.Method == http.MethodGet:
		h.GetDeviceConfig(w, r, deviceID)
	case parts[1] == "config" && r.Method == http.MethodPut:
		h.UpdateDeviceConfig(w, r, deviceID)
	case parts[1] == "history" && r.Method == http.MethodGet:
		h.GetDeviceHistory(w, r, deviceID)
	case parts[1] == "reset" && r.Method == http.MethodPost:
		h.ResetToDefault(w, r, deviceID)
	case parts[1] == "rollback" && r.Method == http.MethodPost:
		h.Rollback(w, r, deviceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListDevices 查询设备列表
func (h *DeviceConfigHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := service.ListDevicesRequest{
		DeviceType:    q.Get("device_type"),
		PendingOnly:   q.Get("pending_only") == "true",
		SearchKeyword: q.Get("search"),
		Page:          parseInt(q.Get("page"), 1),
		Size:          parseInt(q.Get("size"), 20),
	}

	resp, err := h.configService.ListDevices(ctx, req)
	if err != nil {
		h.logger.Error("ListDevices failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	items := make([]any, 0, len(resp.Items))
	for _, d := range resp.Items {
		items = append(items, d.ToJSON())
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": resp.Total,
	}))
}

// GetDeviceConfig 获取设备当前配置
func (h *DeviceConfigHandler) GetDeviceConfig(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()

	resp, err := h.configService.GetDeviceConfig(ctx, service.GetDeviceConfigRequest{DeviceID: deviceID})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(resp.Device.ToJSON()))
}

// updateConfigPayload 手动编辑请求体
type updateConfigPayload struct {
	Config  map[string]any `json:"config"`
	Actor   string         `json:"actor"`
	Summary string         `json:"summary"`
}

// UpdateDeviceConfig 手动编辑设备配置（完整文档替换）
func (h *DeviceConfigHandler) UpdateDeviceConfig(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()

	var payload updateConfigPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if payload.Config == nil {
		writeJSON(w, http.StatusOK, Fail("config is required"))
		return
	}

	resp, err := h.configService.UpdateDeviceConfig(ctx, service.UpdateDeviceConfigRequest{
		DeviceID: deviceID,
		Document: configdoc.Document(payload.Config),
		Actor:    actorFrom(r, payload.Actor),
		Summary:  payload.Summary,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"record":  resp.Record.ToJSON(),
		"changes": resp.Changes,
	}))
}

// historyFiltersFromQuery 从 query 参数解析历史过滤条件
func historyFiltersFromQuery(r *http.Request) *repository.HistoryFilters {
	q := r.URL.Query()
	filters := &repository.HistoryFilters{
		ChangeType: q.Get("change_type"),
		Status:     q.Get("status"),
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.EndTime = &t
		}
	}
	return filters
}

// GetDeviceHistory 查询单设备变更历史
func (h *DeviceConfigHandler) GetDeviceHistory(w http.ResponseWriter, r *http.Request, deviceID string) {
	h.history(w, r, deviceID)
}

// GetGlobalHistory 查询全部设备的变更历史
func (h *DeviceConfigHandler) GetGlobalHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, "")
}

func (h *DeviceConfigHandler) history(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()
	q := r.URL.Query()

	resp, err := h.configService.GetHistory(ctx, service.GetHistoryRequest{
		DeviceID: deviceID,
		Filters:  historyFiltersFromQuery(r),
		Page:     parseInt(q.Get("page"), 1),
		Size:     parseInt(q.Get("size"), 20),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]any, 0, len(resp.Items))
	for _, rec := range resp.Items {
		items = append(items, rec.ToJSON())
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": resp.Total,
	}))
}

// GetValidationRules 返回校验规则
func (h *DeviceConfigHandler) GetValidationRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.configService.GetValidationRules(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rules))
}

// GetDefaultConfig 返回出厂默认配置
func (h *DeviceConfigHandler) GetDefaultConfig(w http.ResponseWriter, r *http.Request) {
	defaults, err := h.configService.GetDefaultConfig(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(defaults))
}

// duplicatePayload 复制配置请求体（一源多目标）
type duplicatePayload struct {
	SourceDeviceID  string   `json:"source_device_id"`
	TargetDeviceIDs []string `json:"target_device_ids"`
	Actor           string   `json:"actor"`
	Force           bool     `json:"force"`
}

// DuplicateConfig 复制设备配置到一批目标设备
func (h *DeviceConfigHandler) DuplicateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload duplicatePayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	result, err := h.rolloutService.DuplicateConfig(ctx, service.DuplicateConfigRequest{
		SourceDeviceID:  payload.SourceDeviceID,
		TargetDeviceIDs: payload.TargetDeviceIDs,
		Actor:           actorFrom(r, payload.Actor),
		Force:           payload.Force,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(result))
}

// resetPayload 重置请求体
type resetPayload struct {
	Actor string `json:"actor"`
}

// ResetToDefault 重置设备配置为默认
func (h *DeviceConfigHandler) ResetToDefault(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()

	var payload resetPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	rec, err := h.rolloutService.ResetToDefault(ctx, service.ResetToDefaultRequest{
		DeviceID: deviceID,
		Actor:    actorFrom(r, payload.Actor),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(rec.ToJSON()))
}

// rollbackPayload 回滚请求体
type rollbackPayload struct {
	HistoryID int64  `json:"history_id"`
	Actor     string `json:"actor"`
}

// Rollback 回滚到历史版本
func (h *DeviceConfigHandler) Rollback(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()

	var payload rollbackPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	rec, err := h.reconcileService.Rollback(ctx, service.RollbackRequest{
		DeviceID:  deviceID,
		HistoryID: payload.HistoryID,
		Actor:     actorFrom(r, payload.Actor),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(rec.ToJSON()))
}

// retryPayload 重试请求体
type retryPayload struct {
	Actor string `json:"actor"`
}

// RetryFailed 重试失败的变更（/config/api/v1/history/{id}/retry）
func (h *DeviceConfigHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/config/api/v1/history/")
	idStr := strings.TrimSuffix(rest, "/retry")
	historyID := int64(parseInt(idStr, 0))
	if historyID <= 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var payload retryPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	rec, err := h.reconcileService.RetryFailed(ctx, service.RetryFailedRequest{
		HistoryID: historyID,
		Actor:     actorFrom(r, payload.Actor),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(rec.ToJSON()))
}
