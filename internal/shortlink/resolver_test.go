package shortlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reachable = ProberFunc(func(context.Context, string) error { return nil })

func setup(t *testing.T, prober Prober) (*Resolver, database.Client) {
	t.Helper()

	db, err := database.StormOpen(filepath.Join(t.TempDir(), "fileshare.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	return NewResolver(logger.WrapLogrus(log), db, prober), db
}

func TestReferences(t *testing.T) {
	id := "7c9e6679-7425-40de-944b-e07fc1f90ae7"

	assert.True(t, References("/download/"+id+"/", id))
	assert.True(t, References("http://host:5000/download/"+id+"/", id))
	assert.True(t, References("/DOWNLOAD/"+strings.ToUpper(id)+"/", id))
	assert.True(t, References("/download/"+id, id))
	assert.False(t, References("/download/"+id+"0/", id))
	assert.False(t, References("https://example.com", id))
	assert.False(t, References("/download//", ""))
}

func TestCreateValidation(t *testing.T) {
	r, _ := setup(t, reachable)

	_, err := r.Create("bad code", "/download/x/")
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = r.Create(strings.Repeat("a", MaxCodeLength+1), "/download/x/")
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = r.Create("ok", "ftp://example.com/x")
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = r.Create("ok", "//example.com/x")
	assert.True(t, failure.Is(err, failure.KindValidation))

	_, err = r.Create("ok", "")
	assert.True(t, failure.Is(err, failure.KindValidation))

	link, err := r.Create(strings.Repeat("a", MaxCodeLength), "https://example.com/x")
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)
	assert.NotNil(t, link.CreatedAt)
}

func TestCreateUniqueCode(t *testing.T) {
	r, _ := setup(t, reachable)

	_, err := r.Create("demo", "/download/a/")
	require.NoError(t, err)

	_, err = r.Create("demo", "/download/b/")
	assert.True(t, failure.Is(err, failure.KindValidation))
}

func TestResolve(t *testing.T) {
	r, db := setup(t, reachable)

	file := &model.File{Filename: "a.txt", Path: "uploads/a.txt", Active: true}
	require.NoError(t, db.Save(file))

	_, err := r.Create("demo", DownloadPath(file.ID))
	require.NoError(t, err)

	outcome, err := r.Resolve(context.Background(), "demo", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Redirect, outcome.Kind)
	assert.Equal(t, DownloadPath(file.ID), outcome.Target)

	outcome, err = r.Resolve(context.Background(), "nope", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, NotFound, outcome.Kind)
}

func TestResolveInactiveFile(t *testing.T) {
	r, db := setup(t, reachable)

	file := &model.File{Filename: "a.txt", Path: "uploads/a.txt", Active: false}
	require.NoError(t, db.Save(file))
	_, err := r.Create("demo", DownloadPath(file.ID))
	require.NoError(t, err)

	outcome, err := r.Resolve(context.Background(), "demo", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, outcome.Kind)
}

func TestResolveForeignDownloadURL(t *testing.T) {
	r, _ := setup(t, reachable)

	_, err := r.Create("foreign", "https://other.example"+DownloadPath("not-here"))
	require.NoError(t, err)
	_, err = r.Create("local", "http://localhost:5000"+DownloadPath("not-here"))
	require.NoError(t, err)

	outcome, err := r.Resolve(context.Background(), "foreign", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Redirect, outcome.Kind)

	outcome, err = r.Resolve(context.Background(), "local", "http://LOCALHOST:5000")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, outcome.Kind)
}

func TestResolveUnreachable(t *testing.T) {
	r, _ := setup(t, ProberFunc(func(context.Context, string) error {
		return errors.New("connection refused")
	}))

	_, err := r.Create("ext", "https://example.com/file")
	require.NoError(t, err)

	outcome, err := r.Resolve(context.Background(), "ext", "")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, outcome.Kind)
}

func TestDeleteDependents(t *testing.T) {
	r, db := setup(t, reachable)

	file := &model.File{Filename: "a.txt", Path: "uploads/a.txt", Active: true}
	require.NoError(t, db.Save(file))

	_, err := r.Create("demo", DownloadPath(file.ID))
	require.NoError(t, err)
	_, err = r.Create("abs", "http://192.168.1.2:5000"+DownloadPath(file.ID))
	require.NoError(t, err)
	_, err = r.Create("other", "https://example.com/")
	require.NoError(t, err)

	n, err := r.DeleteDependents(file.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	links, err := r.List()
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "other", links[0].Code)

	outcome, err := r.Resolve(context.Background(), "demo", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, outcome.Kind)

	// The code can be reused.
	_, err = r.Create("demo", "https://example.com/")
	require.NoError(t, err)
	outcome, err = r.Resolve(context.Background(), "demo", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Redirect, outcome.Kind)
}

func TestDeletedFileWithDanglingLink(t *testing.T) {
	r, db := setup(t, reachable)

	file := &model.File{Filename: "a.txt", Path: "uploads/a.txt", Active: true}
	require.NoError(t, db.Save(file))
	_, err := r.Create("demo", DownloadPath(file.ID))
	require.NoError(t, err)

	require.NoError(t, db.DeleteFile(file.ID))

	outcome, err := r.Resolve(context.Background(), "demo", "http://localhost:5000")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, outcome.Kind)
}

func TestHTTPProber(t *testing.T) {
	var heads int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
		}

		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/moved":
			http.Redirect(w, r, "/missing", http.StatusFound)
		case "/slow":
			time.Sleep(500 * time.Millisecond)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewHTTPProber(100 * time.Millisecond)
	ctx := context.Background()

	assert.NoError(t, p.Probe(ctx, server.URL+"/ok"))
	assert.NoError(t, p.Probe(ctx, server.URL+"/error")) // only 404 means gone
	assert.Error(t, p.Probe(ctx, server.URL+"/missing"))
	assert.Error(t, p.Probe(ctx, server.URL+"/moved"))
	assert.Error(t, p.Probe(ctx, server.URL+"/slow"))
	assert.Error(t, p.Probe(ctx, "http://127.0.0.1:1/unreachable"))
	assert.True(t, atomic.LoadInt32(&heads) >= 5)
}
