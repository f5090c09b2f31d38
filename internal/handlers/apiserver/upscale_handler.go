package apiserver

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"upscale-go/internal/filters"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/middleware"
	"upscale-go/internal/services"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB default max memory for multipart forms
	imageField       = "image"
)

// Responder 决定一次成功处理的结果如何返回给客户端。
type Responder interface {
	Respond(w http.ResponseWriter, r *http.Request, result *services.UpscaleResult)
	// RemoteErrorStatus 是远程服务失败时返回的状态码。
	RemoteErrorStatus() int
	// AcceptsFilters 表示是否从表单中读取滤镜参数。
	AcceptsFilters() bool
}

// BinaryResponder 直接返回 PNG 图片，并通过 X-Output-Filename 头告知输出文件名。
type BinaryResponder struct {
	store imgtypes.ArtifactStore
}

// NewBinaryResponder 创建一个新的 BinaryResponder 实例。
func NewBinaryResponder(store imgtypes.ArtifactStore) *BinaryResponder {
	return &BinaryResponder{store: store}
}

func (b *BinaryResponder) Respond(w http.ResponseWriter, r *http.Request, result *services.UpscaleResult) {
	f, info, err := b.store.OpenOutput(result.Output.FileName)
	if err != nil {
		writeServiceError(r.Context(), w, err, b.RemoteErrorStatus())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Output-Filename", result.Output.FileName)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, result.Output.FileName, info.ModTime(), f)
}

func (b *BinaryResponder) RemoteErrorStatus() int { return http.StatusBadGateway }

func (b *BinaryResponder) AcceptsFilters() bool { return true }

// UpscaleManifest 是 ManifestResponder 返回的 JSON。
type UpscaleManifest struct {
	Success        bool   `json:"success"`
	OutputFilename string `json:"output_filename"`
}

// ManifestResponder 返回 JSON 清单，客户端再通过 /download 获取文件。
type ManifestResponder struct{}

func (ManifestResponder) Respond(w http.ResponseWriter, r *http.Request, result *services.UpscaleResult) {
	writeJSONResponse(w, http.StatusOK, UpscaleManifest{
		Success:        true,
		OutputFilename: result.Output.FileName,
	})
}

func (ManifestResponder) RemoteErrorStatus() int { return http.StatusInternalServerError }

func (ManifestResponder) AcceptsFilters() bool { return false }

// UpscaleHandler 处理图片上传和放大请求，结果的返回方式由 Responder 决定。
type UpscaleHandler struct {
	service   services.UpscaleService
	responder Responder

	// 滤镜只在本地处理时生效，远程模式下不读取也不校验
	parseFilters bool
}

// NewUpscaleHandler 创建一个新的 UpscaleHandler 实例。remoteEnabled 表示是否配置了远程超分服务。
func NewUpscaleHandler(service services.UpscaleService, responder Responder, remoteEnabled bool) *UpscaleHandler {
	return &UpscaleHandler{
		service:      service,
		responder:    responder,
		parseFilters: responder.AcceptsFilters() && !remoteEnabled,
	}
}

// ServeHTTP 解析表单、校验上传，调用服务处理后交给 Responder。
func (h *UpscaleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// 1. 解析 multipart form，临时文件在请求结束时删除
	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var mbErr *http.MaxBytesError
		switch {
		case errors.As(err, &mbErr):
			middleware.WriteTooLarge(w, mbErr.Limit)
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			writeJSONError(w, "No image part", http.StatusBadRequest)
		default:
			writeJSONError(w, "Invalid multipart form", http.StatusBadRequest)
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	// 2. 校验 "image" 字段
	header := firstFile(r.MultipartForm, imageField)
	if err := services.ValidateUpload(header, header != nil || hasEmptyFilePart(r.MultipartForm, imageField)); err != nil {
		writeServiceError(ctx, w, err, h.responder.RemoteErrorStatus())
		return
	}

	// 3. 解析滤镜参数
	params := filters.DefaultParams()
	if h.parseFilters {
		var err error
		params, err = filters.ParseParams(url.Values(r.MultipartForm.Value))
		if err != nil {
			writeServiceError(ctx, w, err, h.responder.RemoteErrorStatus())
			return
		}
	}

	file, err := header.Open()
	if err != nil {
		writeServiceError(ctx, w, &imgtypes.StorageError{Op: "open upload", Err: err}, h.responder.RemoteErrorStatus())
		return
	}
	defer file.Close()

	// 4. 调用服务处理
	result, err := h.service.Upscale(ctx, services.UpscaleRequest{
		File:     file,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Params:   params,
	})
	if err != nil {
		writeServiceError(ctx, w, err, h.responder.RemoteErrorStatus())
		return
	}

	w.Header().Set("X-Upscale-Mode", result.Mode)
	w.Header().Set("X-Processing-Time", result.Duration.Round(time.Millisecond).String())
	h.responder.Respond(w, r, result)
}

// firstFile 返回表单中 field 的第一个文件，没有时返回 nil。
// 空文件名的文件字段会被解析到 form.Value 而不是 form.File。
func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	if files := form.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

// hasEmptyFilePart 判断 field 是否是未选择文件的文件字段 (filename="" 会被解析成空的普通值)。
// 非空的同名文本字段不算上传。
func hasEmptyFilePart(form *multipart.Form, field string) bool {
	if form == nil {
		return false
	}
	values := form.Value[field]
	return len(values) > 0 && values[0] == ""
}
