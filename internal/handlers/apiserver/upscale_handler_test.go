package apiserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscale-go/internal/config"
	"upscale-go/internal/imgtypes"
	"upscale-go/internal/logger"
	"upscale-go/internal/services"
	"upscale-go/internal/storage"
	"upscale-go/internal/upscaler"
)

type testServer struct {
	router *mux.Router
	store  *storage.LocalArtifactStore
	cfg    config.Config
}

func newTestServer(t *testing.T, remote imgtypes.RemoteUpscaler) *testServer {
	t.Helper()
	logger.InitWithWriter(io.Discard, "test", "error")

	root := t.TempDir()
	cfg := config.Config{
		Storage: config.StorageConfig{
			UploadPath:      filepath.Join(root, "uploads"),
			OutputPath:      filepath.Join(root, "outputs"),
			MaxUploadSizeMB: 1,
		},
		Web: config.WebConfig{IndexPath: filepath.Join(root, "index.html")},
	}
	if remote != nil {
		cfg.Upscaler.APIKey = "test-key"
	}
	store, err := storage.NewLocalArtifactStore(cfg.Storage)
	require.NoError(t, err)

	svc := services.NewUpscaleService(store, remote, nil, nil)
	return &testServer{router: NewRouter(cfg, svc, store), store: store, cfg: cfg}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) assertNoInputs(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.store.UploadDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func (s *testServer) outputCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(s.store.OutputDir())
	require.NoError(t, err)
	return len(entries)
}

type formFile struct {
	filename    string
	contentType string
	data        []byte
}

// multipartRequest builds a POST with an optional "image" part plus extra fields.
func multipartRequest(t *testing.T, target string, file *formFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, file.filename))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(20 * x), G: 180, B: uint8(20 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngWithDeclaredSize 生成一个 1x1 的 PNG，再把 IHDR 改成 w×h。
func pngWithDeclaredSize(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := testPNG(t, 1, 1)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestBinaryUpscaleLocalGrayscale(t *testing.T) {
	s := newTestServer(t, nil)

	req := multipartRequest(t, "/api/upscale",
		&formFile{filename: "tiny.png", contentType: "image/png", data: testPNG(t, 10, 10)},
		map[string]string{"grayscale": "1", "brightness": "100"})
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, imgtypes.ModeLocal, rec.Header().Get("X-Upscale-Mode"))
	outName := rec.Header().Get("X-Output-Filename")
	assert.Regexp(t, `^upscaled_[0-9a-f]{32}_tiny\.png\.png$`, outName)

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
	for _, pt := range []image.Point{{0, 0}, {10, 10}, {19, 19}} {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		assert.Equal(t, r, g, "pixel %v", pt)
		assert.Equal(t, g, b, "pixel %v", pt)
	}

	s.assertNoInputs(t)
	assert.True(t, s.store.OutputExists(outName))
}

func TestManifestUpscaleThenDownload(t *testing.T) {
	s := newTestServer(t, nil)

	req := multipartRequest(t, "/upscale",
		&formFile{filename: "photo.jpg.png", contentType: "image/png", data: testPNG(t, 4, 3)},
		map[string]string{"blur": "not-a-number"}) // filter fields are ignored on this route
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var manifest UpscaleManifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.True(t, manifest.Success)
	require.NotEmpty(t, manifest.OutputFilename)
	s.assertNoInputs(t)

	dl := s.do(httptest.NewRequest(http.MethodGet, "/download/"+manifest.OutputFilename, nil))
	require.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "image/png", dl.Header().Get("Content-Type"))
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, dl.Header().Get("Content-Disposition"), manifest.OutputFilename)

	img, err := png.Decode(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestUpscaleValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     func(t *testing.T) *http.Request
		wantErr string
	}{
		{
			name: "no image field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/upscale", nil, map[string]string{"blur": "1"})
			},
			wantErr: "No image part",
		},
		{
			name: "empty filename",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/upscale", &formFile{filename: "", data: []byte{}}, nil)
			},
			wantErr: "No file selected",
		},
		{
			name: "image sent as text field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/upscale", nil, map[string]string{"image": "hello"})
			},
			wantErr: "No image part",
		},
		{
			name: "disallowed type",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/upscale", &formFile{filename: "anim.gif", contentType: "image/gif", data: []byte("GIF89a")}, nil)
			},
			wantErr: "Invalid file type",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upscale", bytes.NewBufferString(`{"image":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantErr: "No image part",
		},
		{
			name: "malformed number",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/upscale",
					&formFile{filename: "a.png", contentType: "image/png", data: testPNG(t, 2, 2)},
					map[string]string{"blur": "abc"})
			},
			wantErr: "Invalid value for blur",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec))
			s.assertNoInputs(t)
			assert.Zero(t, s.outputCount(t))
		})
	}
}

func TestUpscaleUndecodableImage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(multipartRequest(t, "/api/upscale",
		&formFile{filename: "broken.png", contentType: "image/png", data: []byte("not really a png")}, nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec), "Image processing failed")
	s.assertNoInputs(t)
	assert.Zero(t, s.outputCount(t))
}

func TestUpscaleRejectsOversizedDimensions(t *testing.T) {
	s := newTestServer(t, nil)

	data := pngWithDeclaredSize(t, 50000, 50000)
	require.Less(t, len(data), 100)
	rec := s.do(multipartRequest(t, "/api/upscale",
		&formFile{filename: "bomb.png", contentType: "image/png", data: data}, nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec), "Image processing failed")
	assert.Contains(t, decodeError(t, rec), "image too large")
	s.assertNoInputs(t)
	assert.Zero(t, s.outputCount(t))
}

func TestUpscaleTooLarge(t *testing.T) {
	s := newTestServer(t, nil)

	big := make([]byte, 2<<20)
	rec := s.do(multipartRequest(t, "/api/upscale",
		&formFile{filename: "huge.png", contentType: "image/png", data: big}, nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "File too large, maximum is 1 MB", decodeError(t, rec))
	s.assertNoInputs(t)
}

func TestUpscaleRemoteFailureStatus(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer api.Close()

	client := upscaler.NewClient(config.UpscalerConfig{
		APIKey:   "test-key",
		Endpoint: api.URL,
		Timeout:  5 * time.Second,
	})

	tests := []struct {
		target     string
		wantStatus int
	}{
		{target: "/api/upscale", wantStatus: http.StatusBadGateway},
		{target: "/upscale", wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			s := newTestServer(t, client)
			rec := s.do(multipartRequest(t, tt.target,
				&formFile{filename: "a.png", contentType: "image/png", data: testPNG(t, 2, 2)}, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "Upscale API error 503", decodeError(t, rec))
			s.assertNoInputs(t)
			assert.Zero(t, s.outputCount(t))
		})
	}
}

func TestUpscaleRemoteSuccess(t *testing.T) {
	result := testPNG(t, 6, 6)
	apiMux := http.NewServeMux()
	api := httptest.NewServer(apiMux)
	defer api.Close()
	apiMux.HandleFunc("/waifu2x", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"output_url": api.URL + "/out.png"})
	})
	apiMux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(result)
	})

	client := upscaler.NewClient(config.UpscalerConfig{APIKey: "k", Endpoint: api.URL + "/waifu2x", Timeout: 5 * time.Second})
	s := newTestServer(t, client)

	rec := s.do(multipartRequest(t, "/api/upscale",
		&formFile{filename: "a.png", contentType: "image/png", data: testPNG(t, 3, 3)}, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, imgtypes.ModeRemote, rec.Header().Get("X-Upscale-Mode"))
	assert.Equal(t, result, rec.Body.Bytes())
	s.assertNoInputs(t)

	// 远程模式不使用滤镜，非法的滤镜值不会被校验
	rec = s.do(multipartRequest(t, "/api/upscale",
		&formFile{filename: "b.png", contentType: "image/png", data: testPNG(t, 4, 4)},
		map[string]string{"blur": "abc", "rotate": "x"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, result, rec.Body.Bytes())
}

func TestDownload(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.store.WriteOutput(context.Background(), "ok.png", []byte("png-bytes"))
	require.NoError(t, err)

	t.Run("missing file", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/download/nonexistent.png", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "File not found", decodeError(t, rec))
	})

	t.Run("existing file", func(t *testing.T) {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/download/ok.png", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "png-bytes", rec.Body.String())
		assert.Equal(t, `attachment; filename=ok.png`, rec.Header().Get("Content-Disposition"))
	})

	t.Run("escaping path", func(t *testing.T) {
		h := NewDownloadHandler(s.store)
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/download/x", nil),
			map[string]string{"filename": "../uploads/secret.png"})
		rec := httptest.NewRecorder()
		h.Download(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid filename", decodeError(t, rec))
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(s.store.OutputDir(), "dir"), 0o755))
		rec := s.do(httptest.NewRequest(http.MethodGet, "/download/dir", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthAndIndex(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(s.cfg.Web.IndexPath, []byte("<html>upscale</html>"), 0o644))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "upscale")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/upscale", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
