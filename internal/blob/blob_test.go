package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumbnailIsFixedSize(t *testing.T) {
	out, err := Thumbnail(pngBytes(t, 640, 320))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestThumbnailRejectsNonImage(t *testing.T) {
	_, err := Thumbnail([]byte("%PDF-1.4"))
	assert.Error(t, err)
}

func TestObjectKeys(t *testing.T) {
	key := ObjectKey(7, "Report.PDF")
	assert.True(t, strings.HasPrefix(key, "attachments/7/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.NotEqual(t, key, ObjectKey(7, "Report.PDF"))

	assert.Equal(t, "attachments/7/abc_thumb.jpg", ThumbnailKey("attachments/7/abc.png"))
}

func TestS3StorePutAgainstCustomEndpoint(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Region:    "us-east-1",
		Bucket:    "chat",
		Endpoint:  server.URL,
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	locator, err := store.Put(context.Background(), "attachments/1/a.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/chat/attachments/1/a.txt", gotPath)
	assert.Equal(t, "text/plain", gotType)
	assert.Contains(t, string(gotBody), "hello")
	assert.Equal(t, server.URL+"/chat/attachments/1/a.txt", locator)
}
