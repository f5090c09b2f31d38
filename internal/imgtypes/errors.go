// internal/imgtypes/errors.go
package imgtypes

import (
	"fmt"
)

// ValidationError 表示客户端输入不合法 (缺少文件、类型不允许、参数格式错误等)。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError 创建一个 ValidationError。
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RemoteFailure classifies why the remote upscaler call failed.
type RemoteFailure string

const (
	RemoteBadStatus   RemoteFailure = "bad_status"
	RemoteNoOutputURL RemoteFailure = "no_output_url"
	RemoteTimeout     RemoteFailure = "timeout"
	RemoteNetwork     RemoteFailure = "network"
	RemoteBadPayload  RemoteFailure = "bad_payload"
)

// RemoteServiceError is returned for any failure talking to the remote upscaler.
type RemoteServiceError struct {
	Reason     RemoteFailure
	StatusCode int // set when Reason == RemoteBadStatus
	Message    string
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Reason {
	case RemoteBadStatus:
		return fmt.Sprintf("Upscale API error %d", e.StatusCode)
	case RemoteNoOutputURL:
		return "No output URL from upscaler"
	case RemoteTimeout:
		return "Upscale API request timed out"
	}
	if e.Err != nil {
		return fmt.Sprintf("Upscale API request failed: %v", e.Err)
	}
	return "Upscale API request failed"
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// ProcessingError 表示本地解码或滤镜处理失败。
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// StorageError 表示本地磁盘读写失败。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError 表示请求的文件不存在。
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "File not found" }
