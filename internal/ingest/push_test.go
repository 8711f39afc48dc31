package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/normalize"
)

type stubAppender struct {
	appendErr error
	appended  []model.Event
}

func (s *stubAppender) Append(ev model.Event) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, ev)
	return nil
}

type stubPushMetrics struct {
	ingested int
	dropped  map[string]int
}

func newStubPushMetrics() *stubPushMetrics { return &stubPushMetrics{dropped: map[string]int{}} }

func (m *stubPushMetrics) IncIngested(source string) { m.ingested++ }
func (m *stubPushMetrics) IncDropped(source, reason string) {
	m.dropped[source+"|"+reason]++
}

func doIngest(t *testing.T, s *PushServer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_MessageWrappedLine(t *testing.T) {
	store := &stubAppender{}
	metrics := newStubPushMetrics()
	s := NewPushServer(":0", store, normalize.New(zap.NewNop()), metrics, zap.NewNop())

	rec := doIngest(t, s, `{"message":"Failed password for root from 1.2.3.4 port 22"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 appended event, got %d", len(store.appended))
	}
	if store.appended[0].SourceIP != "1.2.3.4" {
		t.Errorf("source_ip = %q", store.appended[0].SourceIP)
	}
	if metrics.ingested != 1 {
		t.Errorf("ingested metric = %d, want 1", metrics.ingested)
	}
}

func TestHandleIngest_StructuredRecord(t *testing.T) {
	store := &stubAppender{}
	s := NewPushServer(":0", store, normalize.New(zap.NewNop()), newStubPushMetrics(), zap.NewNop())

	rec := doIngest(t, s, `{"source_ip":"9.9.9.9","category":["web"],"outcome":"failure"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.appended) != 1 || store.appended[0].SourceIP != "9.9.9.9" {
		t.Errorf("unexpected append: %+v", store.appended)
	}
}

func TestHandleIngest_InvalidJSONBodyReturns400(t *testing.T) {
	s := NewPushServer(":0", &stubAppender{}, normalize.New(zap.NewNop()), newStubPushMetrics(), zap.NewNop())

	rec := doIngest(t, s, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var resp pushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("status field = %q, want error", resp.Status)
	}
}

func TestHandleIngest_UnparseableMessageReturns422(t *testing.T) {
	s := NewPushServer(":0", &stubAppender{}, normalize.New(zap.NewNop()), newStubPushMetrics(), zap.NewNop())

	rec := doIngest(t, s, `{"message":"this line matches nothing at all"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestHandleIngest_StoreErrorReturns500WithCorrelationID(t *testing.T) {
	store := &stubAppender{appendErr: errors.New("disk full")}
	metrics := newStubPushMetrics()
	s := NewPushServer(":0", store, normalize.New(zap.NewNop()), metrics, zap.NewNop())

	rec := doIngest(t, s, `{"source_ip":"1.1.1.1","category":["web"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var resp pushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.Contains(resp.Detail, "correlation_id=") {
		t.Errorf("detail = %q, expected a correlation_id", resp.Detail)
	}
	if metrics.dropped["push|store_error"] != 1 {
		t.Errorf("expected a push|store_error drop metric, got %v", metrics.dropped)
	}
}

func TestHandleIngest_EmptyBodyIsRejected(t *testing.T) {
	s := NewPushServer(":0", &stubAppender{}, normalize.New(zap.NewNop()), newStubPushMetrics(), zap.NewNop())
	rec := doIngest(t, s, ``)
	if rec.Code == http.StatusOK {
		t.Error("an empty body must not be accepted as a valid request")
	}
}
