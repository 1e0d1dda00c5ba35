package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(requestsTotal.WithLabelValues("getNode", "GET", "404"))
	RecordRequest("getNode", "GET", 404, 10*time.Millisecond)
	after := testutil.ToFloat64(requestsTotal.WithLabelValues("getNode", "GET", "404"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestStatusLabel(t *testing.T) {
	if StatusLabel(0) != "none" {
		t.Errorf("expected none, got %s", StatusLabel(0))
	}
	if StatusLabel(201) != "201" {
		t.Errorf("expected 201, got %s", StatusLabel(201))
	}
}

func TestContentCounters(t *testing.T) {
	down := testutil.ToFloat64(contentBytesDownloaded)
	RecordContentDownload(100)
	RecordContentDownload(-5)
	if got := testutil.ToFloat64(contentBytesDownloaded) - down; got != 100 {
		t.Errorf("expected 100 bytes downloaded, got %v", got)
	}

	up := testutil.ToFloat64(contentBytesUploaded)
	RecordContentUpload(42)
	if got := testutil.ToFloat64(contentBytesUploaded) - up; got != 42 {
		t.Errorf("expected 42 bytes uploaded, got %v", got)
	}
}

func TestRecordExport(t *testing.T) {
	before := testutil.ToFloat64(exportedFilesTotal.WithLabelValues("local", "error"))
	RecordExport("local", false)
	if got := testutil.ToFloat64(exportedFilesTotal.WithLabelValues("local", "error")) - before; got != 1 {
		t.Errorf("expected 1 failed export, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	RecordRequestError("search", "connectivity")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "storeclient_request_errors_total") {
		t.Error("expected request error metric in output")
	}
}
