package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{
		"timestamp": "1700000000",
		"public_id": "B1_S1",
		"api_key":   "key",
		"empty":     "",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=B1_S1&timestamp=1700000000secret")))
	assert.Equal(t, want, got)
}

func TestUpload(t *testing.T) {
	var form map[string]string
	var file []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			file, _ = io.ReadAll(f)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"public_id":"tokens/B1_S1","secure_url":"https://cdn/x.png","version":7}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "tokens")
	c.BaseURL = srv.URL
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.Upload(context.Background(), []byte("png-bytes"), "B1_S1")
	require.NoError(t, err)
	assert.Equal(t, "tokens/B1_S1", res.PublicID)
	assert.Equal(t, int64(7), res.Version)

	assert.Equal(t, "png-bytes", string(file))
	assert.Equal(t, "true", form["overwrite"])
	assert.Equal(t, "B1_S1", form["public_id"])
	assert.Equal(t, "tokens", form["folder"])
	assert.Equal(t, "1700000000", form["timestamp"])
	assert.Equal(t, c.sign(map[string]string{
		"timestamp": "1700000000", "public_id": "B1_S1", "overwrite": "true",
		"invalidate": "true", "folder": "tokens",
	}), form["signature"])
}

func TestUpload_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL

	_, err := c.Upload(context.Background(), []byte("x"), "B1_S1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
