package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/phishing-trainer/internal/campaign"
	"github.com/ignite/phishing-trainer/internal/report"
)

const testCampaignID = "training_20260101_000000"

type stubRenderer struct {
	lastTemplate string
	lastVars     map[string]interface{}
}

func (r *stubRenderer) Render(templateID string, vars map[string]interface{}) (string, error) {
	r.lastTemplate = templateID
	r.lastVars = vars
	return "<html>" + templateID + "</html>", nil
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, string, string, string, string) error { return nil }

type testServer struct {
	handler  http.Handler
	mock     sqlmock.Sqlmock
	renderer *stubRenderer
	reports  string
}

func newTestServer(t *testing.T, currentID string) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pointerPath := filepath.Join(t.TempDir(), "current_campaign.txt")
	if currentID != "" {
		if err := os.WriteFile(pointerPath, []byte(currentID+"\n"), 0o644); err != nil {
			t.Fatalf("seeding pointer file: %v", err)
		}
	}

	store := campaign.NewStore(db, pointerPath)
	renderer := &stubRenderer{}
	reportsDir := t.TempDir()

	srv := NewServer(
		store,
		campaign.NewEventRecorder(store),
		campaign.NewDispatchEngine(store, nopMailer{}, renderer, "[중요] 보안 점검", ""),
		report.NewExporter(store, reportsDir),
		campaign.NewStatsService(store, nil, 0),
		renderer,
		"http://phish.local:8000",
	)
	return &testServer{handler: srv.Routes(), mock: mock, renderer: renderer, reports: reportsDir}
}

func (ts *testServer) expectActiveCampaign() {
	ts.mock.ExpectQuery("SELECT id, status, created_at, locked_at FROM phishing_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "created_at", "locked_at"}).
			AddRow(testCampaignID, campaign.StatusActive, time.Now(), nil))
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	if w := ts.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}
}

func TestStartTraining(t *testing.T) {
	ts := newTestServer(t, "")

	ts.mock.ExpectExec("INSERT INTO phishing_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodPost, "/start-training", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /start-training = %d, body %s", w.Code, w.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.HasPrefix(resp["message"], "새 훈련 시작됨: training_") {
		t.Errorf("message = %q", resp["message"])
	}
}

func TestEndTrainingWithoutCampaign(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(t, http.MethodPost, "/end-training", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /end-training = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "진행 중인 훈련 없음") {
		t.Errorf("body = %s", w.Body)
	}
}

func TestEndTraining(t *testing.T) {
	ts := newTestServer(t, testCampaignID)

	ts.expectActiveCampaign()
	ts.mock.ExpectExec("UPDATE phishing_campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodPost, "/end-training", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /end-training = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), "훈련 종료 및 잠금: "+testCampaignID) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestTrackPixel(t *testing.T) {
	t.Run("valid identifier records a click", func(t *testing.T) {
		ts := newTestServer(t, testCampaignID)

		ts.expectActiveCampaign()
		ts.mock.ExpectExec("UPDATE phishing_recipients").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := ts.do(t, http.MethodGet, "/track?id="+uuid.NewString(), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET /track = %d", w.Code)
		}
		if got := w.Header().Get("Content-Type"); got != "image/gif" {
			t.Errorf("Content-Type = %s, want image/gif", got)
		}
		if !bytes.Equal(w.Body.Bytes(), pixelGIF) {
			t.Error("response body is not the tracking pixel")
		}

		if err := ts.mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unfulfilled expectations: %s", err)
		}
	})

	t.Run("malformed identifier still serves the pixel", func(t *testing.T) {
		ts := newTestServer(t, testCampaignID)

		w := ts.do(t, http.MethodGet, "/track?id=not-a-uuid", nil)
		if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/gif" {
			t.Errorf("GET /track = %d, Content-Type %s", w.Code, w.Header().Get("Content-Type"))
		}

		// No database traffic for a forged identifier.
		if err := ts.mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unfulfilled expectations: %s", err)
		}
	})
}

func TestInfectRendersLandingPage(t *testing.T) {
	ts := newTestServer(t, testCampaignID)

	ts.expectActiveCampaign()
	ts.mock.ExpectExec("INSERT INTO phishing_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodGet, "/infect?id="+uuid.NewString(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /infect = %d", w.Code)
	}
	if ts.renderer.lastTemplate != "감염페이지.html" {
		t.Errorf("rendered template = %s", ts.renderer.lastTemplate)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %s", got)
	}
}

func TestViewInfoPassesIdentifier(t *testing.T) {
	ts := newTestServer(t, testCampaignID)
	id := uuid.NewString()

	ts.expectActiveCampaign()
	ts.mock.ExpectExec("UPDATE phishing_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodGet, "/view-info?id="+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /view-info = %d", w.Code)
	}
	if ts.renderer.lastTemplate != "개인정보입력페이지.html" {
		t.Errorf("rendered template = %s", ts.renderer.lastTemplate)
	}
	if ts.renderer.lastVars["id"] != id {
		t.Errorf("template id var = %v, want %s", ts.renderer.lastVars["id"], id)
	}
}

func TestSubmitInfoRecordsInfection(t *testing.T) {
	ts := newTestServer(t, testCampaignID)

	ts.expectActiveCampaign()
	ts.mock.ExpectExec("INSERT INTO phishing_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodPost, "/submit-info?id="+uuid.NewString(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /submit-info = %d", w.Code)
	}
	if ts.renderer.lastTemplate != "감염페이지.html" {
		t.Errorf("rendered template = %s", ts.renderer.lastTemplate)
	}

	if err := ts.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestInfectStatsEndpoint(t *testing.T) {
	t.Run("returns the count", func(t *testing.T) {
		ts := newTestServer(t, testCampaignID)

		ts.expectActiveCampaign()
		ts.mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

		w := ts.do(t, http.MethodGet, "/infect-stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET /infect-stats = %d", w.Code)
		}
		var resp map[string]int
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp["infected_count"] != 7 {
			t.Errorf("infected_count = %d, want 7", resp["infected_count"])
		}
	})

	t.Run("degrades to zero on store error", func(t *testing.T) {
		ts := newTestServer(t, testCampaignID)

		ts.expectActiveCampaign()
		ts.mock.ExpectQuery("SELECT COUNT").
			WillReturnError(os.ErrDeadlineExceeded)

		w := ts.do(t, http.MethodGet, "/infect-stats", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET /infect-stats = %d, want 200 even on error", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"infected_count":0`) {
			t.Errorf("body = %s", w.Body)
		}
	})
}

func TestSendEmails(t *testing.T) {
	ts := newTestServer(t, testCampaignID)

	rosterPath := filepath.Join(t.TempDir(), "roster.csv")
	roster := "이메일,성명\nhong@example.com,홍길동\n"
	if err := os.WriteFile(rosterPath, []byte(roster), 0o644); err != nil {
		t.Fatalf("writing roster: %v", err)
	}

	ts.expectActiveCampaign() // handler checks the current campaign
	ts.expectActiveCampaign() // dispatch re-checks it
	ts.mock.ExpectExec("INSERT INTO phishing_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(map[string]interface{}{
		"csv_path":      rosterPath,
		"template_name": "훈련메일.html",
		"training_mode": 2,
	})
	w := ts.do(t, http.MethodPost, "/send-emails", body)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /send-emails = %d, body %s", w.Code, w.Body)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["total"] != float64(1) || resp["sent"] != float64(1) || resp["fail"] != float64(0) {
		t.Errorf("dispatch response = %v", resp)
	}
}

func TestSendEmailsWithoutCampaign(t *testing.T) {
	ts := newTestServer(t, "")

	body, _ := json.Marshal(map[string]string{"csv_path": "does-not-matter.csv"})
	w := ts.do(t, http.MethodPost, "/send-emails", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /send-emails = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "활성화된 훈련 없음 또는 이미 종료됨") {
		t.Errorf("body = %s", w.Body)
	}
}

func TestExportReport(t *testing.T) {
	ts := newTestServer(t, testCampaignID)

	ts.expectActiveCampaign()
	ts.mock.ExpectQuery("FROM phishing_recipients WHERE campaign_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"campaign_id", "id", "employee_no", "name", "email", "department", "title",
			"ip_address", "user_agent", "referer", "accept_language", "clicked_at", "infected_at",
		}))

	w := ts.do(t, http.MethodPost, "/export-final-report", []byte("{}"))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /export-final-report = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), "보고서 저장 완료: ") {
		t.Errorf("body = %s", w.Body)
	}

	entries, err := os.ReadDir(ts.reports)
	if err != nil {
		t.Fatalf("reading reports dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "final_report_") {
		t.Errorf("reports dir = %v", entries)
	}
}

func TestExportReportWithoutCampaign(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(t, http.MethodPost, "/export-final-report", []byte("{}"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("POST /export-final-report = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "훈련 테이블이 설정되지 않음") {
		t.Errorf("body = %s", w.Body)
	}
}

func TestClickLogs(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.do(t, http.MethodGet, "/logs/clicks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /logs/clicks = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s, want empty array without a campaign", w.Body)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		remote string
		want   string
	}{
		{"forwarded chain", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		}, "10.0.0.2:1234", "203.0.113.9"},
		{"real ip header", func(r *http.Request) {
			r.Header.Set("X-Real-IP", "203.0.113.7")
		}, "10.0.0.2:1234", "203.0.113.7"},
		{"remote addr", func(*http.Request) {}, "203.0.113.5:44321", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			tt.setup(r)
			if got := realIP(r); got != tt.want {
				t.Errorf("realIP() = %s, want %s", got, tt.want)
			}
		})
	}
}
