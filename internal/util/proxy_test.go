package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:3128", "http://secure-proxy:3128", "localhost,.internal,example.org")

	tests := []struct {
		url  string
		want string
	}{
		{"http://news.example.com/a", "http://proxy:3128"},
		{"https://news.example.com/a", "http://secure-proxy:3128"},
		{"http://localhost:8080/", ""},
		{"https://api.internal/x", ""},
		{"https://www.example.org/", ""},
		{"https://example.org/", ""},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s) error: %v", tt.url, err)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.String()
		}
		if gotStr != tt.want {
			t.Errorf("proxy(%s) = %q, want %q", tt.url, gotStr, tt.want)
		}
	}
}
