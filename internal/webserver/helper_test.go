package webserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/config"
	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/shortlink"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t         *testing.T
	url       string
	cfg       *config.Config
	workspace string
	db        database.Client
	client    *http.Client
}

func setup(t *testing.T, options ...func(*config.Config)) *harness {
	t.Helper()

	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	//

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(dir, "fileshare.db")
	cfg.StoragePath = filepath.Join(dir, "storage")
	cfg.ScratchPath = filepath.Join(dir, "scratch")
	cfg.MaxUploadSize = 32 << 20
	cfg.ProbeTimeout = config.Duration{Duration: 2 * time.Second}
	for _, option := range options {
		option(&cfg)
	}

	db, err := database.StormOpen(cfg.DatabasePath)
	require.NoError(t, err)

	//

	l := logger.WrapLogrus(log)
	ctrl := Controller{
		Version:   "test",
		Logger:    l,
		Config:    &cfg,
		Database:  db,
		Storage:   storage.NewFileSystem(cfg.StoragePath),
		Assembler: chunk.New(cfg.ScratchPath, cfg.MaxUploadSize, cfg.MaxChunks),
		Resolver:  shortlink.NewResolver(l, db, shortlink.NewHTTPProber(cfg.ProbeTimeout.Duration)),
	}
	engine := EchoEngine(ctrl)

	server := httptest.NewUnstartedServer(engine)
	server.Config.ReadTimeout = 20 * time.Second
	server.Config.WriteTimeout = 20 * time.Second
	server.Start()

	t.Cleanup(func() {
		server.Close()
		db.Close()
	})

	return &harness{
		t:         t,
		url:       server.URL,
		cfg:       &cfg,
		workspace: cfg.StoragePath,
		db:        db,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// multipart builds a multipart body with the given fields and one file field.
func (h *harness) multipart(fields map[string]string, field, filename string, content []byte) (io.Reader, string) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(h.t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(h.t, err)
		_, err = part.Write(content)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, w.Close())
	return &body, w.FormDataContentType()
}

func (h *harness) do(method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	req, err := http.NewRequest(method, h.url+path, body)
	require.NoError(h.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, payload
}

func (h *harness) json(method, path string, body io.Reader, contentType string) (*http.Response, map[string]interface{}) {
	resp, payload := h.do(method, path, body, contentType)

	var m map[string]interface{}
	if len(payload) > 0 {
		require.NoError(h.t, json.Unmarshal(payload, &m), string(payload))
	}
	return resp, m
}

func (h *harness) upload(filename string, content []byte) (*http.Response, map[string]interface{}) {
	body, ct := h.multipart(nil, "file", filename, content)
	return h.json(http.MethodPost, "/api/upload", body, ct)
}

func (h *harness) chunk(session string, index, total int, filename string, size int, content []byte) (*http.Response, map[string]interface{}) {
	body, ct := h.multipart(map[string]string{
		"file_id":      session,
		"chunk_number": strconv.Itoa(index),
		"total_chunks": strconv.Itoa(total),
		"filename":     filename,
		"file_size":    strconv.Itoa(size),
		"file_type":    "application/octet-stream",
	}, "chunk", "blob", content)
	return h.json(http.MethodPost, "/api/chunked-upload", body, ct)
}

func (h *harness) form(path string, values url.Values) (*http.Response, map[string]interface{}) {
	return h.json(http.MethodPost, path, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}
