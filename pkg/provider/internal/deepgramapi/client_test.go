package deepgramapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	if _, err := New("", "", nil); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty key: err = %v", err)
	}
	c, err := New("k", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.URL("/listen", url.Values{"model": {"nova-3"}}); got != BaseURL+"/listen?model=nova-3" {
		t.Errorf("URL = %q", got)
	}
	c, _ = New("k", "http://proxy:9000/v1/", nil)
	if got := c.URL("/speak", nil); got != "http://proxy:9000/v1/speak?" {
		t.Errorf("URL with custom base = %q", got)
	}
}

func TestPost(t *testing.T) {
	var gotAuth, gotType, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, _ := New("secret", srv.URL, nil)
	data, err := c.Post(context.Background(), "/listen", nil, "audio/wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("body = %q", data)
	}
	if gotAuth != "Token secret" || gotType != "audio/wav" || gotPath != "/listen" || gotBody != "RIFF" {
		t.Errorf("request: auth %q, type %q, path %q, body %q", gotAuth, gotType, gotPath, gotBody)
	}
}

func TestPost_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, strings.Repeat("x", 2000), http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := New("bad", srv.URL, nil)
	_, err := c.Post(context.Background(), "/speak", nil, "application/json", nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 401") {
		t.Fatalf("err = %v, want HTTP 401", err)
	}
	if len(err.Error()) > errorBodyLimit+64 {
		t.Errorf("error carries %d bytes, body not capped", len(err.Error()))
	}
}
