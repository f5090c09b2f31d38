package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"upscale-go/internal/config"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/middleware"
	"upscale-go/internal/services"
)

// NewRouter 创建路由并注册所有接口。
func NewRouter(cfg config.Config, service services.UpscaleService, store imgtypes.ArtifactStore) *mux.Router {
	r := mux.NewRouter()
	RegisterRoutes(r, cfg, service, store)
	return r
}

// RegisterRoutes 在 r 上注册所有接口。
func RegisterRoutes(r *mux.Router, cfg config.Config, service services.UpscaleService, store imgtypes.ArtifactStore) {
	limit := middleware.MaxUploadSize(cfg.Storage.MaxUploadBytes())

	binaryHandler := NewUpscaleHandler(service, NewBinaryResponder(store), cfg.RemoteEnabled())
	manifestHandler := NewUpscaleHandler(service, ManifestResponder{}, cfg.RemoteEnabled())
	downloadHandler := NewDownloadHandler(store)

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.Handle("/", NewIndexHandler(cfg.Web.IndexPath)).Methods(http.MethodGet)

	// 二进制响应: 直接返回 PNG
	r.Handle("/api/upscale", limit(binaryHandler)).Methods(http.MethodPost)
	// JSON 清单响应: 返回输出文件名，再通过 /download 获取
	r.Handle("/upscale", limit(manifestHandler)).Methods(http.MethodPost)

	// 允许子路径，是否逃逸出输出目录由存储层检查
	r.HandleFunc("/download/{filename:.+}", downloadHandler.Download).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}
