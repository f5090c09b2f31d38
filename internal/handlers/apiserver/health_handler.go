package apiserver

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
)

// Health 返回服务存活状态。
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IndexHandler 提供前端页面。
type IndexHandler struct {
	indexPath string
}

// NewIndexHandler 创建一个新的 IndexHandler 实例。
func NewIndexHandler(indexPath string) *IndexHandler {
	return &IndexHandler{indexPath: indexPath}
}

func (h *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(h.indexPath)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			writeJSONError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSONError(w, "File not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, h.indexPath)
}
