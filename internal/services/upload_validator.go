package services

import (
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"

	"upscale-go/internal/imgtypes"
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
}

var allowedMimeTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
}

// ValidateUpload 检查上传的 "image" 字段。present 表示表单中是否存在该字段
// (空文件名的文件字段会被解析成普通表单值，此时 header 为 nil)。
// 扩展名或声明的 MIME 类型任一在白名单中即视为合法。
func ValidateUpload(header *multipart.FileHeader, present bool) error {
	if !present {
		return imgtypes.NewValidationError("No image part")
	}
	if header == nil || strings.TrimSpace(header.Filename) == "" {
		return imgtypes.NewValidationError("No file selected")
	}
	if allowedExtension(header.Filename) || allowedMimeType(header.Header.Get("Content-Type")) {
		return nil
	}
	return imgtypes.NewValidationError("Invalid file type")
}

func allowedExtension(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	_, ok := allowedExtensions[ext]
	return ok
}

func allowedMimeType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	_, ok := allowedMimeTypes[strings.ToLower(mediaType)]
	return ok
}
