package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hivemark/certification-engine/engine"
)

func fakeService(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/verify" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not a multipart request: %v", err)
		}
		if r.FormValue("kind") == "" {
			t.Error("kind field missing")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyAllChecksPassed(t *testing.T) {
	srv := fakeService(t, http.StatusOK,
		`{"results":[{"check":"moisture","status":"passed"},{"check":"hmf","status":"passed"}]}`)
	c := NewClient(srv.URL)

	err := c.Verify(context.Background(), engine.ReportLab, "lab.pdf", []byte("report"))
	if err != nil {
		t.Errorf("all-passed response should verify: %v", err)
	}
}

func TestVerifyFailedCheck(t *testing.T) {
	srv := fakeService(t, http.StatusOK,
		`{"results":[{"check":"moisture","status":"passed"},{"check":"hmf","status":"failed"}]}`)
	c := NewClient(srv.URL)

	err := c.Verify(context.Background(), engine.ReportLab, "lab.pdf", []byte("report"))
	if !errors.Is(err, engine.ErrDocumentVerification) {
		t.Fatalf("expected ErrDocumentVerification, got %v", err)
	}
	var dve *engine.DocumentVerificationError
	if !errors.As(err, &dve) || dve.Status != "failed" {
		t.Errorf("expected status failed, got %v", err)
	}
}

func TestVerifyEmptyResultsFails(t *testing.T) {
	srv := fakeService(t, http.StatusOK, `{"results":[]}`)
	c := NewClient(srv.URL)

	err := c.Verify(context.Background(), engine.ReportProduction, "prod.pdf", []byte("report"))
	if !errors.Is(err, engine.ErrDocumentVerification) {
		t.Fatalf("an unchecked document must not verify, got %v", err)
	}
}

func TestVerifyServiceError(t *testing.T) {
	srv := fakeService(t, http.StatusInternalServerError, `{}`)
	c := NewClient(srv.URL)

	err := c.Verify(context.Background(), engine.ReportLab, "lab.pdf", []byte("report"))
	var dve *engine.DocumentVerificationError
	if !errors.As(err, &dve) || dve.Status != "error" {
		t.Errorf("non-200 should surface as status error, got %v", err)
	}
}

func TestVerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"results":[{"check":"x","status":"passed"}]}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond))

	err := c.Verify(context.Background(), engine.ReportLab, "lab.pdf", []byte("report"))
	if !errors.Is(err, engine.ErrDocumentVerification) {
		t.Errorf("timeout should surface as a verification error, got %v", err)
	}
}
