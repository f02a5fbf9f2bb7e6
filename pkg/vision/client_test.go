package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/loriscan/pkg/types"
)

func TestAnnotateRequestShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/images:annotate", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))

		_, _ = w.Write([]byte(`{"responses":[{"labelAnnotations":[{"description":"Cat"}]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	require.NoError(t, err)

	_, err = c.Annotate(context.Background(), "https://cdn/a.jpg", types.DefaultFeatures())
	require.NoError(t, err)

	want := map[string]any{
		"requests": []any{
			map[string]any{
				"features": []any{
					map[string]any{"type": "LABEL_DETECTION", "maxResults": float64(15)},
					map[string]any{"type": "TEXT_DETECTION", "maxResults": float64(15)},
				},
				"image": map[string]any{
					"source": map[string]any{"imageUri": "https://cdn/a.jpg"},
				},
			},
		},
	}
	assert.Equal(t, want, gotBody)
}

func TestAnnotateKeepsLabelOrderAndRawJSON(t *testing.T) {
	body := `{"responses":[{"labelAnnotations":[{"description":"Cat","score":0.9},{"description":"Dog","score":0.8}],"textAnnotations":[{"description":"HELLO"}]}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "k")
	require.NoError(t, err)

	res, err := c.Annotate(context.Background(), "https://cdn/a.jpg", types.DefaultFeatures())
	require.NoError(t, err)

	assert.Equal(t, []string{"Cat", "Dog"}, res.Descriptions())
	assert.Equal(t, []string{"HELLO"}, res.Texts)
	assert.JSONEq(t, body, string(res.Raw))
}

func TestAnnotateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "http error",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"API key not valid"}}`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "403")
			},
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"responses":`,
		},
		{
			name:   "no responses",
			status: http.StatusOK,
			body:   `{"responses":[]}`,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, ErrEmptyResponse))
			},
		},
		{
			name:   "per image error",
			status: http.StatusOK,
			body:   `{"responses":[{"error":{"code":7,"message":"cannot fetch image"}}]}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, 7, apiErr.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL, "k")
			require.NoError(t, err)

			_, err = c.Annotate(context.Background(), "https://cdn/a.jpg", types.DefaultFeatures())
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("", " ")
	assert.Error(t, err)

	c, err := NewClient("", "k")
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
}

func TestTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, "supersecret")
	require.NoError(t, err)

	_, err = c.Annotate(context.Background(), "https://cdn/a.jpg", types.DefaultFeatures())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "supersecret")
}

func TestTransportErrorRedactsOnlyTheKeyValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c, err := NewClient(endpoint, "k")
	require.NoError(t, err)

	_, err = c.Annotate(context.Background(), "https://cdn/a.jpg", types.DefaultFeatures())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/v1/images:annotate?key=REDACTED")
	assert.NotContains(t, err.Error(), "key=k")
}
