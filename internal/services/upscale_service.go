package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"upscale-go/internal/filters"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/logger"
)

// UpscaleRequest 是一次上传请求经过校验后的内容。
type UpscaleRequest struct {
	File     io.Reader
	Filename string
	MimeType string
	Params   filters.Params
}

// UpscaleResult 是处理成功后的输出。
type UpscaleResult struct {
	Output   *imgtypes.OutputArtifact
	Mode     string // imgtypes.ModeRemote / ModeLocal / ModeCache
	Duration time.Duration
}

// UpscaleService 定义了图片放大服务的接口。
type UpscaleService interface {
	Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error)
}

// upscaleService 是 UpscaleService 的实现。
type upscaleService struct {
	store  imgtypes.ArtifactStore
	remote imgtypes.RemoteUpscaler // nil 表示仅本地处理
	cache  imgtypes.ResultCache    // 可选
	events imgtypes.EventPublisher // 可选
	now    func() time.Time

	maxPixels int64 // 本地解码和变换后的像素上限
}

// Option 调整 upscaleService 的可选参数。
type Option func(*upscaleService)

// WithMaxImagePixels 设置解码前允许的最大像素数 (宽×高)。n <= 0 表示不限制。
func WithMaxImagePixels(n int64) Option {
	return func(s *upscaleService) { s.maxPixels = n }
}

// NewUpscaleService 创建一个新的 UpscaleService 实例。remote、cache、events 均可为 nil。
func NewUpscaleService(store imgtypes.ArtifactStore, remote imgtypes.RemoteUpscaler, cache imgtypes.ResultCache, events imgtypes.EventPublisher, opts ...Option) UpscaleService {
	s := &upscaleService{
		store:     store,
		remote:    remote,
		cache:     cache,
		events:    events,
		now:       time.Now,
		maxPixels: filters.DefaultMaxImagePixels,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upscale 保存输入文件，选择远程或本地路径处理，写出 PNG 结果。
// 输入文件在返回前一定会被删除。
func (s *upscaleService) Upscale(ctx context.Context, req UpscaleRequest) (result *UpscaleResult, err error) {
	start := s.now()
	mode := imgtypes.ModeLocal
	if s.remote != nil {
		mode = imgtypes.ModeRemote
	}

	defer func() {
		event := imgtypes.UpscaleEvent{
			RequestID:        logger.RequestIDFromContext(ctx),
			Mode:             mode,
			OriginalFilename: req.Filename,
			Status:           imgtypes.EventStatusSucceeded,
			DurationMs:       s.now().Sub(start).Milliseconds(),
			Timestamp:        start.UTC(),
		}
		if result != nil {
			event.Mode = result.Mode
			event.OutputFilename = result.Output.FileName
		}
		if err != nil {
			event.Status = imgtypes.EventStatusFailed
			event.Error = err.Error()
		}
		s.publish(ctx, event)
	}()

	input, err := s.store.PersistInput(ctx, req.File, req.Filename, req.MimeType)
	if err != nil {
		return nil, err
	}
	defer s.store.Release(ctx, input)

	fields := logger.Fields{"input": input.UniqueName, "size": input.Size, "mode": mode}
	logger.Info(ctx, "processing upload", fields)

	var data []byte
	if s.remote != nil {
		if name, ok := s.cachedOutput(ctx, input.Digest); ok {
			logger.Info(ctx, "remote result served from cache", logger.Fields{"output": name})
			return &UpscaleResult{
				Output:   &imgtypes.OutputArtifact{FileName: name},
				Mode:     imgtypes.ModeCache,
				Duration: s.now().Sub(start),
			}, nil
		}
		data, err = s.upscaleRemote(ctx, input)
	} else {
		data, err = s.upscaleLocal(input, req.Params)
	}
	if err != nil {
		logger.Error(ctx, "upscale failed", err, fields)
		return nil, err
	}

	output, err := s.store.WriteOutput(ctx, s.store.OutputNameFor(input.UniqueName), data)
	if err != nil {
		return nil, err
	}

	if mode == imgtypes.ModeRemote {
		s.rememberOutput(ctx, input.Digest, output.FileName)
	}

	result = &UpscaleResult{Output: output, Mode: mode, Duration: s.now().Sub(start)}
	logger.Info(ctx, "upscale finished", logger.Fields{
		"output":      output.FileName,
		"output_size": output.Size,
		"mode":        mode,
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

func (s *upscaleService) upscaleRemote(ctx context.Context, input *imgtypes.InputArtifact) ([]byte, error) {
	data, err := s.remote.Upscale(ctx, input.Path)
	if err != nil {
		return nil, err
	}
	if http.DetectContentType(data) == "image/png" {
		return data, nil
	}

	// 远程服务可能返回 JPEG 等格式，统一转为 PNG；结果是 2x，上限按 4 倍计算
	img, err := filters.DecodeLimited(bytes.NewReader(data), 4*s.maxPixels)
	if err != nil {
		return nil, &imgtypes.RemoteServiceError{
			Reason:  imgtypes.RemoteBadPayload,
			Message: "Upscaled image could not be decoded",
			Err:     err,
		}
	}
	var buf bytes.Buffer
	if err := filters.EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *upscaleService) upscaleLocal(input *imgtypes.InputArtifact, params filters.Params) ([]byte, error) {
	f, err := os.Open(input.Path)
	if err != nil {
		return nil, &imgtypes.StorageError{Op: "open input", Err: err}
	}
	defer f.Close()

	img, err := filters.DecodeLimited(f, s.maxPixels)
	if err != nil {
		return nil, err
	}
	out, err := filters.ApplyLimited(img, params, s.maxPixels)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := filters.EncodePNG(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cachedOutput 查询结果缓存，仅当输出文件仍然存在时才算命中。缓存错误按未命中处理。
func (s *upscaleService) cachedOutput(ctx context.Context, digest string) (string, bool) {
	if s.cache == nil || digest == "" {
		return "", false
	}
	name, found, err := s.cache.Get(ctx, digest)
	if err != nil {
		logger.Warn(ctx, "result cache lookup failed", logger.Fields{"error": err.Error()})
		return "", false
	}
	if !found || !s.store.OutputExists(name) {
		return "", false
	}
	return name, true
}

func (s *upscaleService) rememberOutput(ctx context.Context, digest, outputName string) {
	if s.cache == nil || digest == "" {
		return
	}
	if err := s.cache.Put(ctx, digest, outputName); err != nil {
		logger.Warn(ctx, "result cache store failed", logger.Fields{"error": err.Error(), "output": outputName})
	}
}

// publish 发送处理事件，失败只记录日志。请求取消后仍然尝试发送。
func (s *upscaleService) publish(ctx context.Context, event imgtypes.UpscaleEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Error(ctx, "failed to publish upscale event", err, logger.Fields{"status": event.Status})
	}
}
