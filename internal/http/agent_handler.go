package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/service"
)

// AgentHandler 设备 agent 侧端点（轮询期望配置 + 回报应用结果）
type AgentHandler struct {
	configService    service.ConfigService
	reconcileService service.ReconcileService
	cache            *service.DesiredCache
	logger           *zap.Logger
}

// NewAgentHandler 创建 agent 端点 Handler
func NewAgentHandler(
	configService service.ConfigService,
	reconcileService service.ReconcileService,
	cache *service.DesiredCache,
	logger *zap.Logger,
) *AgentHandler {
	return &AgentHandler{
		configService:    configService,
		reconcileService: reconcileService,
		cache:            cache,
		logger:           logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/agent/api/v1/outcome" && r.Method == http.MethodPost:
		h.ReportOutcome(w, r)
	case strings.HasPrefix(path, "/agent/api/v1/devices/") && strings.HasSuffix(path, "/desired") && r.Method == http.MethodGet:
		h.GetDesired(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetDesired 设备轮询期望配置
// 先查 Redis 缓存，miss 时回源数据库并重建响应
func (h *AgentHandler) GetDesired(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rest := strings.TrimPrefix(r.URL.Path, "/agent/api/v1/devices/")
	deviceID := strings.TrimSuffix(rest, "/desired")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// 1. 缓存命中直接返回
	if desired, ok := h.cache.Get(ctx, deviceID); ok {
		writeJSON(w, http.StatusOK, Ok(desired))
		return
	}

	// 2. 回源数据库
	resp, err := h.configService.GetDeviceConfig(ctx, service.GetDeviceConfigRequest{DeviceID: deviceID})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	desired := &service.DesiredConfig{
		DeviceID: deviceID,
		Version:  resp.Device.ConfigVersion,
		Pending:  resp.Device.ConfigPending,
		Config:   resp.Device.ConfigJSON,
	}

	// pending 时补上最新账本记录 id，设备回执要用
	if resp.Device.ConfigPending {
		hist, err := h.configService.GetHistory(ctx, service.GetHistoryRequest{
			DeviceID: deviceID,
			Page:     1,
			Size:     1,
		})
		if err == nil && len(hist.Items) > 0 {
			desired.HistoryID = hist.Items[0].ID
		}
	}

	writeJSON(w, http.StatusOK, Ok(desired))
}

// outcomePayload 设备回执请求体
type outcomePayload struct {
	HistoryID    int64  `json:"history_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
	AppliedAt    int64  `json:"applied_at"` // Unix 秒，可选
}

// ReportOutcome 设备回报变更应用结果
func (h *AgentHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload outcomePayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.ReportOutcomeRequest{
		HistoryID:    payload.HistoryID,
		Success:      payload.Success,
		ErrorMessage: payload.ErrorMessage,
	}
	if payload.AppliedAt > 0 {
		req.AppliedAt = time.Unix(payload.AppliedAt, 0)
	}

	if err := h.reconcileService.ReportOutcome(ctx, req); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"acknowledged": true}))
}
