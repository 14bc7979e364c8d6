package gcs_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/menu-catalog-sync/internal/storage/gcs"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var (
		mu               sync.Mutex
		gotName, gotBody string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/media-bucket/o")
		body, _ := io.ReadAll(r.Body)
		name := r.URL.Query().Get("name")
		mu.Lock()
		gotName, gotBody = name, string(body)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"name":"`+name+`","bucket":"media-bucket"}`)
	})

	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "media-bucket", Prefix: "/catalog/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "images/abc.jpg", "image/jpeg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, "gs://media-bucket/catalog/images/abc.jpg", uri)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "catalog/images/abc.jpg", gotName)
	require.Contains(t, gotBody, "jpeg-bytes")
	require.Contains(t, gotBody, "image/jpeg")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store, err := gcs.New(newTestClient(t, handler), gcs.Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x.png", "image/png", strings.NewReader("data"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := gcs.New(newTestClient(t, http.NotFoundHandler()), gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}

func TestDialChecksBucket(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/media-bucket")
		_, _ = io.WriteString(w, `{"name":"media-bucket"}`)
	}))
	t.Cleanup(ok.Close)

	store, err := gcs.Dial(context.Background(), gcs.Config{Bucket: "media-bucket"}, nil,
		option.WithEndpoint(ok.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(missing.Close)

	_, err = gcs.Dial(context.Background(), gcs.Config{Bucket: "gone"}, nil,
		option.WithEndpoint(missing.URL), option.WithoutAuthentication())
	require.Error(t, err)
}
