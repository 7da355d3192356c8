package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterConfigRoutes 注册设备配置管理路由
func (r *Router) RegisterConfigRoutes(d *DeviceConfigHandler, p *ProfileHandler) {
	// devices / history / rules / defaults / duplicate
	r.HandleHandler("/config/api/v1/devices", d)
	r.HandleHandler("/config/api/v1/devices/", d)
	r.HandleHandler("/config/api/v1/history", d)
	r.HandleHandler("/config/api/v1/history/", d)
	r.HandleHandler("/config/api/v1/rules", d)
	r.HandleHandler("/config/api/v1/defaults", d)
	r.HandleHandler("/config/api/v1/duplicate", d)

	// profiles
	r.HandleHandler("/config/api/v1/profiles", p)
	r.HandleHandler("/config/api/v1/profiles/", p)
}

// RegisterAgentRoutes 注册设备 agent 侧路由
func (r *Router) RegisterAgentRoutes(a *AgentHandler) {
	r.HandleHandler("/agent/api/v1/devices/", a)
	r.HandleHandler("/agent/api/v1/outcome", a)
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
