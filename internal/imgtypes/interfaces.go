// internal/imgtypes/interfaces.go
package imgtypes

import (
	"context"
	"io"
	"os"
	"time"
)

// ArtifactStore 定义了输入/输出文件的生命周期操作。
// 将接口定义放在 imgtypes 中以打破 storage 和 services 之间的循环依赖。
type ArtifactStore interface {
	// AllocateInputName 清洗原始文件名并加上随机 token。
	AllocateInputName(originalName string) string

	// PersistInput 将上传内容写入输入目录。调用方必须在请求结束前调用 Release。
	PersistInput(ctx context.Context, reader io.Reader, originalName, mimeType string) (*InputArtifact, error)

	// Release 尽力删除输入文件，失败只记录日志。
	Release(ctx context.Context, artifact *InputArtifact)

	// OutputNameFor 根据输入文件的唯一名称生成输出文件名。
	OutputNameFor(uniqueName string) string

	// WriteOutput 在输出目录中新建文件，已存在时报错而不是覆盖。
	WriteOutput(ctx context.Context, fileName string, data []byte) (*OutputArtifact, error)

	// OutputExists 判断输出文件是否存在。
	OutputExists(fileName string) bool

	// OpenOutput 打开输出目录中的文件，拒绝逃逸出输出目录的路径。
	OpenOutput(fileName string) (*os.File, os.FileInfo, error)
}

// RemoteUpscaler submits an image file to an external super-resolution
// service and returns the upscaled bytes.
type RemoteUpscaler interface {
	Upscale(ctx context.Context, inputPath string) ([]byte, error)
}

// ResultCache maps an input digest to a previously produced output file name.
type ResultCache interface {
	Get(ctx context.Context, digest string) (outputName string, found bool, err error)
	Put(ctx context.Context, digest string, outputName string) error
}

// EventPublisher emits an UpscaleEvent for every processed request.
type EventPublisher interface {
	Publish(ctx context.Context, event UpscaleEvent) error
}

// UpscaleEvent 描述一次处理的结果。
type UpscaleEvent struct {
	RequestID        string    `json:"request_id,omitempty"`
	Mode             string    `json:"mode"`
	OriginalFilename string    `json:"original_filename"`
	OutputFilename   string    `json:"output_filename,omitempty"`
	Status           string    `json:"status"` // "succeeded" / "failed"
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

const (
	EventStatusSucceeded = "succeeded"
	EventStatusFailed    = "failed"
)
