package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, got *chatRequest, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimpleQuery(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, &got, `{"choices":[{"message":{"role":"assistant","content":"{\"labels\":[\"Dog\"]}"},"finish_reason":"stop"}]}`)

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	out, err := c.SimpleQuery(context.Background(), "m", "label it", "/9j/AAAA")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if out != `{"labels":["Dog"]}` {
		t.Errorf("unexpected answer %q", out)
	}

	if got.Model != "m" || got.Stream || got.MaxTokens != 1024 {
		t.Errorf("unexpected request %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json_object response format, got %+v", got.ResponseFormat)
	}
	parts := got.Messages[0].Content
	if len(parts) != 2 || parts[0].Text != "label it" {
		t.Fatalf("expected text and image parts, got %+v", parts)
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("unexpected image url %q", parts[1].ImageURL.URL)
	}
}

func TestSimpleQueryWithoutJSONMode(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, &got, `{"choices":[{"message":{"content":"ok"}}]}`)

	c, _ := NewClient(srv.URL)
	c.SetJSONMode(false)
	c.SetMaxTokens(64)
	if _, err := c.SimpleQuery(context.Background(), "m", "p", ""); err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if got.ResponseFormat != nil {
		t.Errorf("response_format should be omitted, got %+v", got.ResponseFormat)
	}
	if got.MaxTokens != 64 {
		t.Errorf("expected max_tokens 64, got %d", got.MaxTokens)
	}
	if len(got.Messages[0].Content) != 1 {
		t.Errorf("expected only the text part without an image")
	}
}

func TestSimpleQueryTruncated(t *testing.T) {
	srv := newTestServer(t, nil, `{"choices":[{"message":{"content":"{\"labels\":[\"Do"},"finish_reason":"length"}]}`)

	c, _ := NewClient(srv.URL)
	_, err := c.SimpleQuery(context.Background(), "m", "p", "")
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestSimpleQueryArrayContent(t *testing.T) {
	srv := newTestServer(t, nil, `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hel"},{"type":"text","text":"lo"}]}}]}`)

	c, _ := NewClient(srv.URL)
	out, err := c.SimpleQuery(context.Background(), "m", "p", "")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected hello, got %q", out)
	}
}

func TestSimpleQueryErrors(t *testing.T) {
	bodies := map[string]struct {
		status int
		body   string
	}{
		"status":       {http.StatusInternalServerError, `oops`},
		"server error": {http.StatusOK, `{"error":{"message":"model not loaded"}}`},
		"no choices":   {http.StatusOK, `{"choices":[]}`},
		"empty text":   {http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`},
		"bad json":     {http.StatusOK, `{`},
	}

	for name, tc := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL)
			if _, err := c.SimpleQuery(context.Background(), "m", "p", ""); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost:8080"); err == nil {
		t.Error("expected an error for a URL without scheme")
	}
	c, err := NewClient("")
	if err != nil || c.baseURL != DefaultURL {
		t.Errorf("expected default URL, got %v %v", c, err)
	}
}

func TestImageMIME(t *testing.T) {
	cases := map[string]string{
		"iVBORw0KGgo":  "image/png",
		"UklGRiQAAABX": "image/webp",
		"/9j/4AAQ":     "image/jpeg",
	}
	for in, want := range cases {
		if got := imageMIME(in); got != want {
			t.Errorf("imageMIME(%q) = %q, want %q", in, got, want)
		}
	}
}
