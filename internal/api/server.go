// Package api is the thin HTTP adapter over the campaign core: control
// endpoints for the operator panel and tracking endpoints hit by recipients.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ignite/phishing-trainer/internal/campaign"
	"github.com/ignite/phishing-trainer/internal/pkg/logger"
	"github.com/ignite/phishing-trainer/internal/report"
)

// Landing page template names, matching the files the operator ships in the
// template directory.
const (
	infectionPageTemplate   = "감염페이지.html"
	captureFormPageTemplate = "개인정보입력페이지.html"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Server wires the core services to HTTP routes.
type Server struct {
	store    *campaign.Store
	recorder *campaign.EventRecorder
	engine   *campaign.DispatchEngine
	exporter *report.Exporter
	stats    *campaign.StatsService
	renderer campaign.Renderer
	baseURL  string
}

// NewServer creates the HTTP adapter.
func NewServer(store *campaign.Store, recorder *campaign.EventRecorder,
	engine *campaign.DispatchEngine, exporter *report.Exporter,
	stats *campaign.StatsService, renderer campaign.Renderer, baseURL string) *Server {
	return &Server{
		store:    store,
		recorder: recorder,
		engine:   engine,
		exporter: exporter,
		stats:    stats,
		renderer: renderer,
		baseURL:  baseURL,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	// Control endpoints (operator panel).
	r.Post("/start-training", s.handleStartTraining)
	r.Post("/end-training", s.handleEndTraining)
	r.Post("/send-emails", s.handleSendEmails)
	r.Post("/export-final-report", s.handleExportReport)
	r.Get("/logs/clicks", s.handleClickLogs)
	r.Get("/infect-stats", s.handleInfectStats)

	// Tracking endpoints (recipient-facing).
	r.Get("/track", s.handleTrack)
	r.Get("/infect", s.handleInfect)
	r.Get("/view-info", s.handleViewInfo)
	r.Post("/submit-info", s.handleSubmitInfo)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.CreateCampaign(r.Context())
	if err != nil {
		logger.Error("start training failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "새 훈련 시작됨: " + id})
}

func (s *Server) handleEndTraining(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.LockCurrentCampaign(r.Context())
	if errors.Is(err, campaign.ErrNoActiveCampaign) || errors.Is(err, campaign.ErrCampaignLocked) {
		writeError(w, http.StatusBadRequest, "진행 중인 훈련 없음")
		return
	}
	if err != nil {
		logger.Error("end training failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "훈련 종료 및 잠금: " + id})
}

type sendEmailsRequest struct {
	CSVPath      string `json:"csv_path"`
	TemplateName string `json:"template_name"`
	TrainingMode int    `json:"training_mode"`
	ServerBase   string `json:"server_base"`
}

func (s *Server) handleSendEmails(w http.ResponseWriter, r *http.Request) {
	var req sendEmailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TrainingMode == 0 {
		req.TrainingMode = int(campaign.StageModeInfect)
	}
	base := req.ServerBase
	if base == "" {
		base = s.baseURL
	}

	cur, err := s.store.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cur == nil || cur.Locked() {
		writeError(w, http.StatusBadRequest, "활성화된 훈련 없음 또는 이미 종료됨")
		return
	}

	f, err := os.Open(req.CSVPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "CSV 파일 열기 실패: "+err.Error())
		return
	}
	defer f.Close()

	recipients, err := campaign.ParseRoster(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Dispatch(r.Context(), cur.ID, recipients,
		req.TemplateName, campaign.StageMode(req.TrainingMode), base)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, campaign.ErrNoActiveCampaign) || errors.Is(err, campaign.ErrCampaignLocked) ||
			errors.Is(err, campaign.ErrNotCurrent) || errors.Is(err, campaign.ErrInvalidStageMode) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     result.Total,
		"sent":      result.Sent,
		"fail":      result.Fail,
		"saved_csv": result.SavedCSV,
	})
}

type exportReportRequest struct {
	CampaignID string `json:"campaign_id"`
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	var req exportReportRequest
	// Body is optional; default to the current campaign pointer.
	_ = json.NewDecoder(r.Body).Decode(&req)

	campaignID := req.CampaignID
	if campaignID == "" {
		cur, err := s.store.Current(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cur == nil {
			writeError(w, http.StatusBadRequest, "훈련 테이블이 설정되지 않음")
			return
		}
		campaignID = cur.ID
	}

	path, err := s.exporter.Export(r.Context(), campaignID)
	if err != nil {
		logger.Error("report export failed", "campaign", campaignID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "보고서 저장 완료: " + path})
}

func (s *Server) handleClickLogs(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListCurrentEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleInfectStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.stats.InfectStats(r.Context())
	if err != nil {
		// The panel polls this constantly; degrade to zero instead of erroring.
		logger.Warn("infect stats failed", "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]int{"infected_count": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"infected_count": count})
}

// handleTrack serves the mail-open tracking pixel.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if id, ok := trackingID(r); ok {
		s.recorder.RecordClick(r.Context(), id, requestContext(r))
	}
	servePixel(w)
}

// handleInfect is the 2-step landing: the link leads straight to infection.
func (s *Server) handleInfect(w http.ResponseWriter, r *http.Request) {
	if id, ok := trackingID(r); ok {
		s.recorder.RecordInfection(r.Context(), id, requestContext(r))
	}
	s.renderPage(w, infectionPageTemplate, map[string]interface{}{})
}

// handleViewInfo is the 3-step landing: a click plus the info-capture form.
func (s *Server) handleViewInfo(w http.ResponseWriter, r *http.Request) {
	idParam := ""
	if id, ok := trackingID(r); ok {
		s.recorder.RecordClick(r.Context(), id, requestContext(r))
		idParam = id.String()
	}
	s.renderPage(w, captureFormPageTemplate, map[string]interface{}{"id": idParam})
}

// handleSubmitInfo fires when the captured form is submitted. No submitted
// personal data is persisted, only the infection event.
func (s *Server) handleSubmitInfo(w http.ResponseWriter, r *http.Request) {
	if id, ok := trackingID(r); ok {
		s.recorder.RecordInfection(r.Context(), id, requestContext(r))
	}
	s.renderPage(w, infectionPageTemplate, map[string]interface{}{})
}

func (s *Server) renderPage(w http.ResponseWriter, name string, vars map[string]interface{}) {
	html, err := s.renderer.Render(name, vars)
	if err != nil {
		logger.Error("landing page render failed", "template", name, "error", err.Error())
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Write(pixelGIF)
}

// trackingID parses the id query parameter. Malformed identifiers are
// dropped without error; forged URLs are routine background noise.
func trackingID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// requestContext captures the request details stored with tracking events.
func requestContext(r *http.Request) campaign.RequestContext {
	return campaign.RequestContext{
		IPAddress:      realIP(r),
		UserAgent:      r.UserAgent(),
		Referer:        r.Referer(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}
}

func realIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	ip = r.Header.Get("X-Real-IP")
	if ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
