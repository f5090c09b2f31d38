package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"upscale-go/internal/config"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/logger"
)

const outputPrefix = "upscaled_"

var _ imgtypes.ArtifactStore = (*LocalArtifactStore)(nil)

// LocalArtifactStore 实现了 imgtypes.ArtifactStore 接口，输入和输出分别放在两个本地目录。
type LocalArtifactStore struct {
	uploadDir string // 输入文件目录，例如 "./uploads"
	outputDir string // 输出文件目录，例如 "./outputs"
}

// NewLocalArtifactStore 创建一个新的 LocalArtifactStore 实例，并确保两个目录存在。
func NewLocalArtifactStore(cfg config.StorageConfig) (*LocalArtifactStore, error) {
	uploadDir, err := filepath.Abs(cfg.UploadPath)
	if err != nil {
		return nil, fmt.Errorf("解析上传目录失败 '%s': %w", cfg.UploadPath, err)
	}
	outputDir, err := filepath.Abs(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("解析输出目录失败 '%s': %w", cfg.OutputPath, err)
	}
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", dir, err)
		}
	}
	return &LocalArtifactStore{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// UploadDir 返回输入目录的绝对路径。
func (s *LocalArtifactStore) UploadDir() string { return s.uploadDir }

// OutputDir 返回输出目录的绝对路径。
func (s *LocalArtifactStore) OutputDir() string { return s.outputDir }

// AllocateInputName 生成 "<token>_<清洗后的文件名>" 形式的唯一名称。
func (s *LocalArtifactStore) AllocateInputName(originalName string) string {
	return randomToken() + "_" + SanitizeFilename(originalName)
}

// PersistInput 将上传内容写入输入目录，同时计算 SHA-256。
func (s *LocalArtifactStore) PersistInput(ctx context.Context, reader io.Reader, originalName, mimeType string) (*imgtypes.InputArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, &imgtypes.StorageError{Op: "persist input", Err: err}
	}

	uniqueName := s.AllocateInputName(originalName)
	dstPath := filepath.Join(s.uploadDir, uniqueName)

	// O_EXCL: 名称冲突时报错而不是覆盖其他请求的文件
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &imgtypes.StorageError{Op: "create input file", Err: err}
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dst, hasher), reader)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// 写入失败时删除已创建的文件
		os.Remove(dstPath)
		return nil, &imgtypes.StorageError{Op: "write input file", Err: err}
	}

	logger.Debug(ctx, "input artifact persisted", logger.Fields{
		"name": uniqueName,
		"size": written,
	})

	return &imgtypes.InputArtifact{
		UniqueName:   uniqueName,
		Path:         dstPath,
		Size:         written,
		MimeType:     mimeType,
		OriginalName: originalName,
		Digest:       hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Release 删除输入文件。文件已不存在时什么都不做；其他失败只记录日志，不返回给调用方。
func (s *LocalArtifactStore) Release(ctx context.Context, artifact *imgtypes.InputArtifact) {
	if artifact == nil || artifact.Path == "" {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error(ctx, "failed to remove input artifact", err, logger.Fields{
			"path": artifact.Path,
		})
		return
	}
	logger.Debug(ctx, "input artifact released", logger.Fields{"name": artifact.UniqueName})
}

// OutputNameFor 返回 "upscaled_<uniqueName>.png"。
func (s *LocalArtifactStore) OutputNameFor(uniqueName string) string {
	return outputPrefix + uniqueName + ".png"
}

// WriteOutput 在输出目录中创建新文件。输出目录只追加，已存在的文件不会被覆盖。
func (s *LocalArtifactStore) WriteOutput(ctx context.Context, fileName string, data []byte) (*imgtypes.OutputArtifact, error) {
	dstPath, err := s.resolveOutput(fileName)
	if err != nil {
		return nil, err
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &imgtypes.StorageError{Op: "create output file", Err: err}
	}
	written, err := dst.Write(data)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dstPath)
		return nil, &imgtypes.StorageError{Op: "write output file", Err: err}
	}

	logger.Debug(ctx, "output artifact written", logger.Fields{
		"name": fileName,
		"size": written,
	})

	return &imgtypes.OutputArtifact{
		FileName: fileName,
		Path:     dstPath,
		Size:     int64(written),
	}, nil
}

// OutputExists 判断输出目录中是否存在该普通文件。
func (s *LocalArtifactStore) OutputExists(fileName string) bool {
	p, err := s.resolveOutput(fileName)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// OpenOutput 打开输出文件。调用方负责关闭返回的 *os.File。
func (s *LocalArtifactStore) OpenOutput(fileName string) (*os.File, os.FileInfo, error) {
	p, err := s.resolveOutput(fileName)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, &imgtypes.NotFoundError{Name: fileName}
		}
		return nil, nil, &imgtypes.StorageError{Op: "open output file", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, &imgtypes.StorageError{Op: "stat output file", Err: err}
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, &imgtypes.NotFoundError{Name: fileName}
	}
	return f, info, nil
}

// resolveOutput 把文件名映射到输出目录下的路径，结果必须仍在输出目录之内。
func (s *LocalArtifactStore) resolveOutput(fileName string) (string, error) {
	if fileName == "" || strings.ContainsRune(fileName, 0) {
		return "", imgtypes.NewValidationError("Invalid filename")
	}
	p := filepath.Join(s.outputDir, filepath.FromSlash(fileName))
	rel, err := filepath.Rel(s.outputDir, p)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", imgtypes.NewValidationError("Invalid filename")
	}
	return p, nil
}
