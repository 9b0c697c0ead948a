package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStatusRecorder struct {
	codes []int
}

func (f *fakeStatusRecorder) RecordHTTPStatus(code int) {
	f.codes = append(f.codes, code)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"explicit status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, http.StatusNotFound},
		{"implicit 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, http.StatusOK},
		{"no write", func(w http.ResponseWriter, r *http.Request) {}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeStatusRecorder{}
			NewMetricsMiddleware(rec)(tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))

			if len(rec.codes) != 1 || rec.codes[0] != tt.want {
				t.Errorf("recorded %v, want [%d]", rec.codes, tt.want)
			}
		})
	}
}
