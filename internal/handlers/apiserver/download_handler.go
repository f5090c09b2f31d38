package apiserver

import (
	"mime"
	"net/http"
	"path"

	"github.com/gorilla/mux"

	"upscale-go/internal/imgtypes"
)

// DownloadHandler 提供输出目录中文件的下载。
type DownloadHandler struct {
	store imgtypes.ArtifactStore
}

// NewDownloadHandler 创建一个新的 DownloadHandler 实例。
func NewDownloadHandler(store imgtypes.ArtifactStore) *DownloadHandler {
	return &DownloadHandler{store: store}
}

// Download 以附件形式返回 {filename} 指定的输出文件。
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]

	f, info, err := h.store.OpenOutput(name)
	if err != nil {
		writeServiceError(r.Context(), w, err, http.StatusInternalServerError)
		return
	}
	defer f.Close()

	base := path.Base(name)
	contentType := mime.TypeByExtension(path.Ext(base))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base}))
	http.ServeContent(w, r, base, info.ModTime(), f)
}
