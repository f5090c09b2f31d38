// Package upscaler talks to a DeepAI waifu2x-compatible super-resolution API:
// the image is posted as multipart form data, the service answers with a URL
// to the result, and the result is fetched in a second request.
package upscaler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"upscale-go/internal/config"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/logger"
)

const (
	apiKeyHeader     = "api-key"
	imageFormField   = "image"
	maxErrorBodySize = 4 << 10
)

var _ imgtypes.RemoteUpscaler = (*Client)(nil)

// Client is a single-attempt client: no retries, each call bounded by Timeout.
type Client struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	maxResultBytes int64
}

type submitResponse struct {
	OutputURL string `json:"output_url"`
}

// NewClient creates a Client from the upscaler configuration.
func NewClient(cfg config.UpscalerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxResult := cfg.MaxResultSizeMB << 20
	if maxResult <= 0 {
		maxResult = 64 << 20
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		endpoint:       cfg.Endpoint,
		apiKey:         cfg.APIKey,
		maxResultBytes: maxResult,
	}
}

// Upscale submits the file at inputPath and returns the upscaled image bytes.
func (c *Client) Upscale(ctx context.Context, inputPath string) ([]byte, error) {
	outputURL, err := c.submit(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "upscaler returned output url", logger.Fields{"output_url": outputURL})
	return c.fetch(ctx, outputURL)
}

func (c *Client) submit(ctx context.Context, inputPath string) (string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return "", &imgtypes.StorageError{Op: "open input file", Err: err}
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(imageFormField, filepath.Base(inputPath))
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", &imgtypes.StorageError{Op: "read input file", Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteNetwork, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		logger.Warn(ctx, "upscaler rejected request", logger.Fields{
			"status_code": resp.StatusCode,
			"body":        string(snippet),
		})
		return "", &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteBadStatus, StatusCode: resp.StatusCode}
	}

	var payload submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxResultBytes)).Decode(&payload); err != nil {
		if isTimeout(err) {
			return "", &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteTimeout, Err: err}
		}
		// 响应体不是 JSON，同样视为没有拿到结果地址
		return "", &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteNoOutputURL, Err: err}
	}
	if payload.OutputURL == "" {
		return "", &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteNoOutputURL}
	}
	return payload.OutputURL, nil
}

func (c *Client) fetch(ctx context.Context, outputURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return nil, &imgtypes.RemoteServiceError{
			Reason:  imgtypes.RemoteBadPayload,
			Message: "Invalid output URL from upscaler",
			Err:     err,
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &imgtypes.RemoteServiceError{
			Reason:     imgtypes.RemoteBadStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Upscaled image download failed with status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResultBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(data)) > c.maxResultBytes {
		return nil, &imgtypes.RemoteServiceError{
			Reason:  imgtypes.RemoteBadPayload,
			Message: "Upscaled image exceeds size limit",
		}
	}
	if len(data) == 0 {
		return nil, &imgtypes.RemoteServiceError{
			Reason:  imgtypes.RemoteBadPayload,
			Message: "Upscaled image is empty",
		}
	}
	return data, nil
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteTimeout, Err: err}
	}
	return &imgtypes.RemoteServiceError{Reason: imgtypes.RemoteNetwork, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
