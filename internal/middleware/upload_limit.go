package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// MaxUploadSize 限制请求体大小。Content-Length 已超出限制时直接返回 413，
// 否则用 http.MaxBytesReader 包装请求体，由处理器在读取时发现超限。
func MaxUploadSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				WriteTooLarge(w, limit)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// TooLargeMessage 返回超限时的错误信息。
func TooLargeMessage(limit int64) string {
	return fmt.Sprintf("File too large, maximum is %d MB", limit>>20)
}

// WriteTooLarge 写出 413 JSON 错误。
func WriteTooLarge(w http.ResponseWriter, limit int64) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusRequestEntityTooLarge)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": TooLargeMessage(limit)})
}
