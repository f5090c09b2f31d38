package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"upscale-go/internal/imgtypes"
	"upscale-go/internal/logger"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 格式的响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		// 头部已经发出，编码失败时无法再改写状态码
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// writeServiceError 把 imgtypes 中的错误类型映射为 HTTP 状态码。
// remoteStatus 是远程服务失败时使用的状态码，由各路由自己决定。
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, remoteStatus int) {
	var (
		vErr  *imgtypes.ValidationError
		nfErr *imgtypes.NotFoundError
		rErr  *imgtypes.RemoteServiceError
		pErr  *imgtypes.ProcessingError
		sErr  *imgtypes.StorageError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSONError(w, vErr.Reason, http.StatusBadRequest)
	case errors.As(err, &nfErr):
		writeJSONError(w, nfErr.Error(), http.StatusNotFound)
	case errors.As(err, &rErr):
		logger.Error(ctx, "remote upscaler failed", err, logger.Fields{"reason": string(rErr.Reason), "status": rErr.StatusCode})
		writeJSONError(w, rErr.Error(), remoteStatus)
	case errors.As(err, &pErr):
		logger.Error(ctx, "image processing failed", err)
		writeJSONError(w, "Image processing failed: "+pErr.Error(), http.StatusInternalServerError)
	case errors.As(err, &sErr):
		logger.Error(ctx, "storage failure", err, logger.Fields{"op": sErr.Op})
		writeJSONError(w, "Failed to store file", http.StatusInternalServerError)
	default:
		logger.Error(ctx, "unexpected error", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
