// internal/imgtypes/artifact.go
package imgtypes

// InputArtifact 是请求期间落盘的上传文件，归当前请求独占，请求结束前必须删除。
type InputArtifact struct {
	UniqueName   string `json:"uniqueName"`   // 随机 token + 清洗后的原始文件名
	Path         string `json:"path"`         // 本地路径
	Size         int64  `json:"size"`         // 文件大小 (字节)
	MimeType     string `json:"mimeType"`     // 客户端声明的 MIME 类型
	OriginalName string `json:"originalName"` // 原始文件名
	Digest       string `json:"digest"`       // 内容的 SHA-256 (hex)
}

// OutputArtifact 是处理结果，写入后由下载接口提供访问，不随请求删除。
type OutputArtifact struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// 处理路径
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
	ModeCache  = "cache"
)
