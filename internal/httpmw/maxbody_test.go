package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{name: "under", body: "hello", limit: 10},
		{name: "exact", body: "hello", limit: 5},
		{name: "over", body: "hello world", limit: 5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var readErr error
			h := MaxBody(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.ReadAll(r.Body)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			var mbe *http.MaxBytesError
			if got := errors.As(readErr, &mbe); got != tt.wantErr {
				t.Fatalf("MaxBytesError = %v (err %v), want %v", got, readErr, tt.wantErr)
			}
		})
	}
}

func TestMaxBody_NoBody(t *testing.T) {
	var body io.ReadCloser
	h := MaxBody(1)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) { body = r.Body }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if body != http.NoBody {
		t.Fatal("NoBody was wrapped")
	}
}
