package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/exportcache"
	"github.com/dvloznov/journal-classifier/internal/jobs"
	"github.com/dvloznov/journal-classifier/internal/jobs/inmemory"
	"github.com/dvloznov/journal-classifier/internal/journal"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/dvloznov/journal-classifier/internal/masters"
	"github.com/dvloznov/journal-classifier/internal/mfapi"
	"github.com/dvloznov/journal-classifier/internal/pipeline"
)

// MockPersister is a mock implementation of pipeline.Persister for testing.
type MockPersister struct {
	SaveJournalEntryFunc func(ctx context.Context, tenantID string, e journal.Entry) (string, error)
	entries              int
}

func (m *MockPersister) SavePrediction(ctx context.Context, tenantID string, p journal.Prediction) (string, error) {
	return "pred-1", nil
}

func (m *MockPersister) SaveJournalEntry(ctx context.Context, tenantID string, e journal.Entry) (string, error) {
	m.entries++
	if m.SaveJournalEntryFunc != nil {
		return m.SaveJournalEntryFunc(ctx, tenantID, e)
	}
	return fmt.Sprintf("entry-%d", m.entries), nil
}

// MockMarker is a mock implementation of ExportMarker for testing.
type MockMarker struct {
	MarkExportedFunc func(ctx context.Context, tenantID string, entryIDs []string) (int64, error)
	tenantID         string
	entryIDs         []string
}

func (m *MockMarker) MarkExported(ctx context.Context, tenantID string, entryIDs []string) (int64, error) {
	m.tenantID = tenantID
	m.entryIDs = entryIDs
	if m.MarkExportedFunc != nil {
		return m.MarkExportedFunc(ctx, tenantID, entryIDs)
	}
	return int64(len(entryIDs)), nil
}

// MockPoster is a mock implementation of JournalPoster for testing.
type MockPoster struct {
	CreateJournalFunc func(ctx context.Context, payload mfapi.JournalPayload) (*mfapi.CreateJournalResult, error)
	payloads          []mfapi.JournalPayload
}

func (m *MockPoster) CreateJournal(ctx context.Context, payload mfapi.JournalPayload) (*mfapi.CreateJournalResult, error) {
	m.payloads = append(m.payloads, payload)
	if m.CreateJournalFunc != nil {
		return m.CreateJournalFunc(ctx, payload)
	}
	return &mfapi.CreateJournalResult{ID: fmt.Sprintf("j-%d", len(m.payloads))}, nil
}

const electricityBody = `{
	"tenantId": "tenant-a",
	"transactions": [
		{"date": "2024-01-15", "vendor": "東京電力", "description": "電気代", "amount": 5000, "direction": "expense", "accountName": "水道光熱費"}
	]
}`

type testServer struct {
	handler   http.Handler
	cache     *exportcache.Cache
	persister *MockPersister
	marker    *MockMarker
	poster    *MockPoster
	store     *inmemory.Store
}

type serverOptions struct {
	persistence bool
	baseURL     string
	authToken   string
	catalogs    pipeline.CatalogFunc
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	ts := &testServer{
		cache:     exportcache.New(time.Minute),
		persister: &MockPersister{},
		marker:    &MockMarker{},
		poster:    &MockPoster{},
		store:     inmemory.NewStore(),
	}
	runner := pipeline.NewRunner(pipeline.Deps{Persister: ts.persister})

	register := NewRegisterHandler(runner, ts.cache, opts.persistence, opts.baseURL)

	queue := inmemory.NewQueue(10, ts.store, inmemory.WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	if err := queue.Start(ctx, register.ProcessJob); err != nil {
		t.Fatalf("queue.Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Stop(context.Background())
		cancel()
	})

	catalogs := opts.catalogs
	if catalogs == nil {
		catalogs = func(context.Context) (*masters.Catalogs, error) { return &masters.Catalogs{}, nil }
	}

	ts.handler = NewRouter(Handlers{
		Register: register,
		Exports:  NewExportsHandler(ts.cache, ts.marker),
		Jobs:     NewJobsHandler(ts.store, queue),
		MFAPI:    NewMFAPIHandler(runner, ts.poster),
		Masters:  NewMastersHandler(catalogs),
	}, RouterOptions{Log: logger.NewWithWriter(io.Discard), AuthToken: opts.authToken})
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeRegister(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestRegister_BadRequests(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{`, want: "Invalid request body"},
		{name: "missing tenant", body: `{"transactions": []}`, want: "tenantId is required"},
		{name: "no transactions", body: `{"tenantId": "t", "transactions": []}`, want: "No transactions extracted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/mf/register", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestRegister_WithoutPersistence(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	out := decodeRegister(t, ts.do(http.MethodPost, "/api/mf/register", electricityBody))

	if out["count"] != float64(1) || out["persisted_count"] != float64(0) {
		t.Errorf("counts = %v / %v", out["count"], out["persisted_count"])
	}
	if out["db_persistence"] != PersistenceSkipped {
		t.Errorf("db_persistence = %v", out["db_persistence"])
	}
	if out["csv_download_url"] != nil {
		t.Errorf("csv_download_url = %v, want null", out["csv_download_url"])
	}
	csvText, _ := out["csv_text"].(string)
	if !strings.HasPrefix(csvText, "取引No,") || !strings.Contains(csvText, "1,2024/01/15,水道光熱費,") {
		t.Errorf("csv_text = %q", csvText)
	}
	if id, _ := out["csv_export_id"].(string); id == "" {
		t.Error("csv_export_id missing")
	}
	if ts.persister.entries != 0 {
		t.Errorf("persisted %d entries without a database", ts.persister.entries)
	}
	if errs, ok := out["errors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("errors = %v", out["errors"])
	}
}

func TestRegister_PersistAndDownloadMarksExported(t *testing.T) {
	ts := newTestServer(t, serverOptions{persistence: true, baseURL: "https://api.example.test"})

	out := decodeRegister(t, ts.do(http.MethodPost, "/api/mf/register", electricityBody))
	if out["db_persistence"] != PersistenceEnabled || out["persisted_count"] != float64(1) {
		t.Fatalf("persistence = %v / %v", out["db_persistence"], out["persisted_count"])
	}

	link, _ := out["csv_download_url"].(string)
	prefix := "https://api.example.test/api/mf/exports/" + out["csv_export_id"].(string) + ".csv?token="
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("csv_download_url = %q, want prefix %q", link, prefix)
	}

	rec := ts.do(http.MethodGet, strings.TrimPrefix(link, "https://api.example.test"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\ufeff取引No")) {
		t.Errorf("download missing BOM: %q", rec.Body.String())
	}
	if ts.marker.tenantID != "tenant-a" || len(ts.marker.entryIDs) != 1 || ts.marker.entryIDs[0] != "entry-1" {
		t.Errorf("MarkExported(%q, %v)", ts.marker.tenantID, ts.marker.entryIDs)
	}
}

func TestRegister_PersistOptOut(t *testing.T) {
	ts := newTestServer(t, serverOptions{persistence: true})

	body := strings.Replace(electricityBody, `"tenantId": "tenant-a",`, `"tenantId": "tenant-a", "persist": false,`, 1)
	out := decodeRegister(t, ts.do(http.MethodPost, "/api/mf/register", body))
	if out["db_persistence"] != PersistenceSkipped || ts.persister.entries != 0 {
		t.Errorf("db_persistence = %v, entries = %d", out["db_persistence"], ts.persister.entries)
	}
}

func TestRegister_SnakeCaseAliases(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	body := `{"tenant_id": "tenant-a", "pending_journal_data": [{"invoiceDate": "2024-02-01", "summary": "フルーツみかみへの支払い", "totalAmount": 1200}]}`
	out := decodeRegister(t, ts.do(http.MethodPost, "/api/mf/register", body))
	if out["count"] != float64(1) {
		t.Errorf("count = %v", out["count"])
	}
	txs, _ := out["transactions"].([]any)
	if len(txs) != 1 || txs[0].(map[string]any)["vendor"] != "フルーツみかみ" {
		t.Errorf("transactions = %v", out["transactions"])
	}
}

func TestRegister_RawCSV(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(http.MethodPost, "/api/mf/register?as_json=false", electricityBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\ufeff取引No")) {
		t.Error("raw CSV missing BOM")
	}
	if ts.cache.Len() != 0 {
		t.Errorf("raw CSV response cached %d exports", ts.cache.Len())
	}
}

func TestRegister_StrictPersistFailure(t *testing.T) {
	ts := newTestServer(t, serverOptions{persistence: true})
	ts.persister.SaveJournalEntryFunc = func(context.Context, string, journal.Entry) (string, error) {
		return "", errors.New("db down")
	}

	body := strings.Replace(electricityBody, `"tenantId": "tenant-a",`, `"tenantId": "tenant-a", "strict": true,`, 1)
	rec := ts.do(http.MethodPost, "/api/mf/register", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Persist failed for 1/1 transactions") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	csvText, err := export.CSV(nil)
	if err != nil {
		t.Fatalf("export.CSV() error = %v", err)
	}
	entry, err := ts.cache.Put("tenant-a", csvText, nil)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cp932, _ := export.EncodeCP932(csvText)

	tests := []struct {
		name        string
		target      string
		wantStatus  int
		wantType    string
		wantPrefix  []byte
		wantFileExt string
	}{
		{name: "unknown id", target: "/api/mf/exports/nope?token=" + entry.Token, wantStatus: http.StatusNotFound},
		{name: "bad token", target: "/api/mf/exports/" + entry.ID + "?token=wrong", wantStatus: http.StatusForbidden},
		{name: "bad encoding", target: "/api/mf/exports/" + entry.ID + "?token=" + entry.Token + "&encoding=latin1", wantStatus: http.StatusBadRequest},
		{name: "bad format", target: "/api/mf/exports/" + entry.ID + "?token=" + entry.Token + "&format=pdf", wantStatus: http.StatusBadRequest},
		{
			name:        "utf8 bom",
			target:      "/api/mf/exports/" + entry.ID + ".csv?token=" + entry.Token,
			wantStatus:  http.StatusOK,
			wantType:    "text/csv; charset=utf-8",
			wantPrefix:  []byte("\ufeff"),
			wantFileExt: ".csv",
		},
		{
			name:        "cp932",
			target:      "/api/mf/exports/" + entry.ID + "?token=" + entry.Token + "&encoding=cp932",
			wantStatus:  http.StatusOK,
			wantType:    "text/csv; charset=Shift_JIS",
			wantPrefix:  cp932,
			wantFileExt: ".csv",
		},
		{
			name:        "xlsx",
			target:      "/api/mf/exports/" + entry.ID + "?token=" + entry.Token + "&format=xlsx",
			wantStatus:  http.StatusOK,
			wantType:    contentTypeXLSX,
			wantPrefix:  []byte("PK"),
			wantFileExt: ".xlsx",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if !bytes.HasPrefix(rec.Body.Bytes(), tt.wantPrefix) {
				t.Errorf("body prefix mismatch")
			}
			want := fmt.Sprintf(`filename="mf_journal_%s%s"`, entry.ID, tt.wantFileExt)
			if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, want) {
				t.Errorf("Content-Disposition = %q, want %q", cd, want)
			}
		})
	}
	if ts.marker.tenantID != "" {
		t.Error("MarkExported called for an export without entries")
	}
}

func TestDownload_MarkFailureStillServes(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.marker.MarkExportedFunc = func(context.Context, string, []string) (int64, error) {
		return 0, errors.New("db down")
	}
	entry, _ := ts.cache.Put("tenant-a", "x\r\n", []string{"e1"})

	rec := ts.do(http.MethodGet, "/api/mf/exports/"+entry.ID+"?token="+entry.Token, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestValidate(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	body := `{"transactions": [
		{"date": "2024-01-15", "amount": 100, "accountName": "雑費"},
		{"amount": 0}
	]}`
	rec := ts.do(http.MethodPost, "/api/mf/validate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Valid    bool     `json:"valid"`
		Count    int      `json:"count"`
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{
		"取引2: 日付が必要です",
		"取引2: 勘定科目が識別されていません",
		"取引2: 金額が無効です",
	}
	if out.Valid || out.Count != 2 || strings.Join(out.Messages, "|") != strings.Join(want, "|") {
		t.Errorf("validate = %+v", out)
	}
}

func TestRegisterJob(t *testing.T) {
	ts := newTestServer(t, serverOptions{persistence: true})

	rec := ts.do(http.MethodPost, "/api/mf/register/jobs", electricityBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &accepted)
	jobID := accepted["job_id"]
	if jobID == "" {
		t.Fatal("job_id missing")
	}

	var job jobs.RegisterJob
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = ts.do(http.MethodGet, "/api/jobs/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET job status = %d", rec.Code)
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &job)
		if job.Status == jobs.JobStatusCompleted || job.Status == jobs.JobStatusFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if job.Status != jobs.JobStatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if job.Result == nil || job.Result.Count != 1 || job.Result.PersistedCount != 1 || job.Result.CSVExportID == "" {
		t.Errorf("result = %+v", job.Result)
	}
	if job.TenantID != "tenant-a" {
		t.Errorf("TenantID = %q", job.TenantID)
	}

	rec = ts.do(http.MethodGet, "/api/jobs?tenantId=tenant-a", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("list = %s", rec.Body.String())
	}
}

func TestRegisterJob_FailsPermanently(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(http.MethodPost, "/api/mf/register/jobs", `{"tenantId": "tenant-a", "transactions": []}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var accepted map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &accepted)

	var job *jobs.RegisterJob
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := ts.store.GetJob(context.Background(), accepted["job_id"])
		if err == nil && got.Status == jobs.JobStatusFailed {
			job = got
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job == nil {
		t.Fatal("job did not fail")
	}
	if job.RetryCount != 0 || !strings.Contains(job.Error, "No transactions extracted") {
		t.Errorf("job = %+v", job)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	if rec := ts.do(http.MethodGet, "/api/jobs/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestPostJournals(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.poster.CreateJournalFunc = func(ctx context.Context, p mfapi.JournalPayload) (*mfapi.CreateJournalResult, error) {
		if p.Details[0].AccountName == "雑費" {
			return nil, &mfapi.APIError{StatusCode: 422, Body: "rejected"}
		}
		return &mfapi.CreateJournalResult{ID: "j-ok"}, nil
	}

	body := `{"tenantId": "tenant-a", "transactions": [
		{"date": "2024-01-15", "amount": 5000, "direction": "expense", "accountName": "水道光熱費"},
		{"date": "2024-01-16", "amount": 300, "direction": "expense", "accountName": "雑費"},
		{"date": "", "amount": 100}
	]}`
	rec := ts.do(http.MethodPost, "/api/mf/register/mf-api", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Success      bool         `json:"success"`
		SuccessCount int          `json:"success_count"`
		FailureCount int          `json:"failure_count"`
		Details      []PostResult `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Success || out.SuccessCount != 1 || out.FailureCount != 2 {
		t.Errorf("summary = %+v", out)
	}
	if out.Details[0].JournalID != "j-ok" || !strings.Contains(out.Details[1].Error, "422") {
		t.Errorf("details = %+v", out.Details)
	}
	if len(ts.poster.payloads) != 2 {
		t.Errorf("posted %d payloads, want 2", len(ts.poster.payloads))
	}
}

func TestPostJournals_NotConfigured(t *testing.T) {
	h := NewRouter(Handlers{MFAPI: NewMFAPIHandler(nil, nil)}, RouterOptions{Log: logger.NewWithWriter(io.Discard)})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mf/register/mf-api", strings.NewReader(electricityBody)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListMasters(t *testing.T) {
	tests := []struct {
		name       string
		catalogs   pipeline.CatalogFunc
		wantStatus int
		want       string
	}{
		{
			name: "loaded",
			catalogs: func(context.Context) (*masters.Catalogs, error) {
				return &masters.Catalogs{
					Accounts: []masters.Account{{Code: "100", Name: "水道光熱費"}},
				}, nil
			},
			wantStatus: http.StatusOK,
			want:       `"account_count":1`,
		},
		{
			name:       "error",
			catalogs:   func(context.Context) (*masters.Catalogs, error) { return nil, errors.New("boom") },
			wantStatus: http.StatusInternalServerError,
			want:       "Failed to load master data",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, serverOptions{catalogs: tt.catalogs})
			rec := ts.do(http.MethodGet, "/api/masters", "")
			if rec.Code != tt.wantStatus || !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_AuthAndMethods(t *testing.T) {
	ts := newTestServer(t, serverOptions{authToken: "secret"})

	tests := []struct {
		name   string
		method string
		target string
		auth   string
		want   int
	}{
		{name: "health is public", method: http.MethodGet, target: "/health", want: http.StatusOK},
		{name: "download is public", method: http.MethodGet, target: "/api/mf/exports/missing?token=x", want: http.StatusNotFound},
		{name: "masters needs token", method: http.MethodGet, target: "/api/masters", want: http.StatusUnauthorized},
		{name: "masters with token", method: http.MethodGet, target: "/api/masters", auth: "Bearer secret", want: http.StatusOK},
		{name: "wrong method", method: http.MethodGet, target: "/api/mf/register", auth: "Bearer secret", want: http.StatusMethodNotAllowed},
		{name: "unknown route", method: http.MethodGet, target: "/api/nope", auth: "Bearer secret", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
