package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSecureHeadersMiddleware ensures the security headers are consistently applied.
func TestSecureHeadersMiddleware(t *testing.T) {
	h := &Handler{}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rw := httptest.NewRecorder()
	h.secureHeaders(final).ServeHTTP(rw, req)
	res := rw.Result()
	checks := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
	}
	for k, expect := range checks {
		got := res.Header.Get(k)
		if got == "" {
			t.Fatalf("missing header %s", k)
		}
		if got != expect {
			t.Fatalf("header %s mismatch\nexpected: %s\nactual:   %s", k, expect, got)
		}
	}
}

func TestLogRequestsRecordsStatus(t *testing.T) {
	var rec *statusRecorder
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec = w.(*statusRecorder)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	})
	rw := httptest.NewRecorder()
	logRequests(final).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec == nil || rec.status != http.StatusTeapot {
		t.Fatalf("expected first status to be recorded, got %+v", rec)
	}
	if rw.Code != http.StatusTeapot {
		t.Fatalf("expected 418 got %d", rw.Code)
	}
}
