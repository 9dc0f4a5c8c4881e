package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFalUploader_Upload(t *testing.T) {
	var putBody []byte
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/upload/initiate":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Key secret", r.Header.Get("Authorization"))
			var req initiateUploadReq
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "image/png", req.ContentType)
			assert.Equal(t, "a.png", req.FileName)
			_ = json.NewEncoder(w).Encode(initiateUploadResp{
				UploadURL: server.URL + "/signed-put",
				FileURL:   "https://cdn.example/a.png",
			})
		case "/signed-put":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Empty(t, r.Header.Get("Authorization"))
			putBody, _ = io.ReadAll(r.Body)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	u := NewFalUploader(server.URL, "secret", nil, zap.NewNop())
	url, err := u.Upload(context.Background(), Object{Name: "a.png", ContentType: "image/png", Data: []byte("pixels")})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.png", url)
	assert.Equal(t, "pixels", string(putBody))
}

func TestFalUploader_MissingCredential(t *testing.T) {
	u := NewFalUploader("http://unused.invalid", "", nil, zap.NewNop())
	_, err := u.Upload(context.Background(), Object{Name: "a.png", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestFalUploader_InitiateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}))
	defer server.Close()

	u := NewFalUploader(server.URL, "wrong", nil, zap.NewNop())
	_, err := u.Upload(context.Background(), Object{Name: "a.png", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.fal_initiate")
	assert.Contains(t, err.Error(), "401")
}

func TestFalUploader_InitiateMissingURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	u := NewFalUploader(server.URL, "secret", nil, zap.NewNop())
	_, err := u.Upload(context.Background(), Object{Name: "a.png", Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing upload or file url")
}
