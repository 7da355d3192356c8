package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/NjCayao/safetySystem-sub000/internal/configdoc"
	"github.com/NjCayao/safetySystem-sub000/internal/service"
)

// ProfileHandler 配置模板管理 Handler
type ProfileHandler struct {
	profileService service.ProfileService
	rolloutService service.RolloutService
	logger         *zap.Logger
}

// NewProfileHandler 创建配置模板管理 Handler
func NewProfileHandler(
	profileService service.ProfileService,
	rolloutService service.RolloutService,
	logger *zap.Logger,
) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		rolloutService: rolloutService,
		logger:         logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// 路由分发
	switch {
	case path == "/config/api/v1/profiles" && r.Method == http.MethodGet:
		h.ListProfiles(w, r)
	case path == "/config/api/v1/profiles" && r.Method == http.MethodPost:
		h.CreateProfile(w, r)
	case strings.HasPrefix(path, "/config/api/v1/profiles/"):
		h.serveProfile(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveProfile 分发 /config/api/v1/profiles/{id}[/...] 子路由
func (h *ProfileHandler) serveProfile(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/config/api/v1/profiles/")
	parts := strings.SplitN(rest, "/", 2)
	profileID := parts[0]
	if profileID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.GetProfile(w, r, profileID)
		case http.MethodPut:
			h.UpdateProfile(w, r, profileID)
		case http.MethodDelete:
			h.DeleteProfile(w, r, profileID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch {
	case parts[1] == "default" && r.Method == http.MethodPost:
		h.SetDefault(w, r, profileID)
	case parts[1] == "apply" && r.Method == http.MethodPost:
		h.ApplyProfile(w, r, profileID)
	case parts[1] == "apply-bulk" && r.Method == http.MethodPost:
		h.ApplyProfileBulk(w, r, profileID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListProfiles 查询配置模板列表
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	resp, err := h.profileService.ListProfiles(ctx, service.ListProfilesRequest{
		DeviceType:       q.Get("device_type"),
		IncludeUniversal: q.Get("include_universal") != "false",
		DefaultOnly:      q.Get("default_only") == "true",
		Page:             parseInt(q.Get("page"), 1),
		Size:             parseInt(q.Get("size"), 20),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]any, 0, len(resp.Items))
	for _, p := range resp.Items {
		items = append(items, p.ToJSON())
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": resp.Total,
	}))
}

// GetProfile 获取配置模板
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request, profileID string) {
	profile, err := h.profileService.GetProfile(r.Context(), profileID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(profile.ToJSON()))
}

// profilePayload 创建/更新模板请求体
type profilePayload struct {
	Name       string         `json:"name"`
	DeviceType string         `json:"device_type"`
	Config     map[string]any `json:"config"`
	CreatedBy  string         `json:"created_by"`
}

// CreateProfile 创建配置模板
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload profilePayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	profile, err := h.profileService.CreateProfile(ctx, service.CreateProfileRequest{
		Name:       payload.Name,
		DeviceType: payload.DeviceType,
		Document:   configdoc.Document(payload.Config),
		CreatedBy:  actorFrom(r, payload.CreatedBy),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(profile.ToJSON()))
}

// UpdateProfile 更新配置模板
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, profileID string) {
	ctx := r.Context()

	var payload profilePayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	profile, err := h.profileService.UpdateProfile(ctx, service.UpdateProfileRequest{
		ProfileID:  profileID,
		Name:       payload.Name,
		DeviceType: payload.DeviceType,
		Document:   configdoc.Document(payload.Config),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(profile.ToJSON()))
}

// DeleteProfile 删除配置模板
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request, profileID string) {
	if err := h.profileService.DeleteProfile(r.Context(), profileID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": true}))
}

// SetDefault 设为默认模板
func (h *ProfileHandler) SetDefault(w http.ResponseWriter, r *http.Request, profileID string) {
	if err := h.profileService.SetDefault(r.Context(), profileID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"default": true}))
}

// applyPayload 单设备套用请求体
type applyPayload struct {
	DeviceID string `json:"device_id"`
	Actor    string `json:"actor"`
	Force    bool   `json:"force"`
}

// ApplyProfile 套用模板到单台设备
func (h *ProfileHandler) ApplyProfile(w http.ResponseWriter, r *http.Request, profileID string) {
	ctx := r.Context()

	var payload applyPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.rolloutService.ApplyProfile(ctx, service.ApplyProfileRequest{
		ProfileID: profileID,
		DeviceID:  payload.DeviceID,
		Actor:     actorFrom(r, payload.Actor),
		Force:     payload.Force,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := map[string]any{
		"skipped": resp.Skipped,
	}
	if resp.Skipped {
		out["skip_reason"] = resp.SkipReason
	} else {
		out["record"] = resp.Record.ToJSON()
	}

	writeJSON(w, http.StatusOK, Ok(out))
}

// applyBulkPayload 批量套用请求体
type applyBulkPayload struct {
	DeviceIDs []string `json:"device_ids"`
	Actor     string   `json:"actor"`
	Force     bool     `json:"force"`
}

// ApplyProfileBulk 批量套用模板
func (h *ProfileHandler) ApplyProfileBulk(w http.ResponseWriter, r *http.Request, profileID string) {
	ctx := r.Context()

	var payload applyBulkPayload
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	result, err := h.rolloutService.ApplyProfileBulk(ctx, service.ApplyProfileBulkRequest{
		ProfileID: profileID,
		DeviceIDs: payload.DeviceIDs,
		Actor:     actorFrom(r, payload.Actor),
		Force:     payload.Force,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(result))
}
