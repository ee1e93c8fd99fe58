package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/archive"
	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/environment"
	"github.com/Agrid-Dev/pvmocktat/internal/metrics"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/ports"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/report"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// Services are the ports the server drives. Recorder, Archive, Weather and Metrics are optional.
type Services struct {
	Sim      ports.SimulatorService
	Recorder ports.RecorderService
	Archive  ports.SessionArchive
	Catalog  ports.PanelCatalog
	Weather  ports.WeatherLocator
	Metrics  *metrics.Metrics
}

type Server struct {
	svc      Services
	srv      *http.Server
	mux      *http.ServeMux
	deviceID string
}

// New returns a runnable server.
func New(svc Services, addr string, deviceID string) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux(), deviceID: deviceID}

	// Read
	s.handle("GET /v1", s.handleGet)
	s.handle("GET /v1/panels", s.handleGetPanels)
	s.handle("GET /v1/controller", s.handleGetController)
	s.handle("GET /v1/curve", s.handleGetCurve)

	// Write: one endpoint per variable
	s.handle("POST /v1/irradiance", s.handlePostIrradiance)
	s.handle("POST /v1/temperature", s.handlePostTemperature)
	s.handle("POST /v1/sun_position", s.handlePostSunPosition)
	s.handle("POST /v1/algorithm", s.handlePostAlgorithm)
	s.handle("POST /v1/topology", s.handlePostTopology)
	s.handle("POST /v1/array", s.handlePostArray)
	s.handle("POST /v1/panel", s.handlePostPanel)
	s.handle("POST /v1/panel/custom", s.handlePostCustomPanel)
	s.handle("POST /v1/config", s.handlePostConfig)

	if svc.Recorder != nil {
		s.handle("POST /v1/recording/start", s.handleRecordingStart)
		s.handle("POST /v1/recording/stop", s.handleRecordingStop)
		s.handle("GET /v1/recording/entries", s.handleRecordingEntries)
		s.handle("GET /v1/recording/entries.csv", s.handleRecordingCSV)
		s.handle("GET /v1/recording/report.pdf", s.handleRecordingReport)
	}

	if svc.Archive != nil {
		s.handle("GET /v1/archive/sessions", s.handleArchiveSessions)
		s.handle("GET /v1/archive/sessions/{id}/report.pdf", s.handleArchiveReport)
	}

	if svc.Weather != nil {
		s.handle("GET /v1/weather/location", s.handleGetWeatherLocation)
		s.handle("POST /v1/weather/location", s.handlePostWeatherLocation)
	}

	if svc.Metrics != nil {
		s.mux.Handle("GET /metrics", svc.Metrics.Handler())
	}

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var h http.Handler = s.mux
	h = handlers.CustomLoggingHandler(io.Discard, h, logRequest)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(panicLogger{}))(h)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	if s.svc.Metrics == nil {
		s.mux.Handle(pattern, h)
		return
	}
	s.mux.Handle(pattern, s.svc.Metrics.WrapHandler(pattern, h))
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	klog.V(2).InfoS("HTTP request", "method", p.Request.Method, "path", p.URL.Path, "status", p.StatusCode, "size", p.Size)
}

type panicLogger struct{}

func (panicLogger) Println(v ...interface{}) {
	klog.ErrorS(nil, "HTTP handler panic", "detail", fmt.Sprint(v...))
}

// ---- DTOs ----

type snapshotDTO struct {
	DeviceID string `json:"device_id"`
	simulator.Snapshot
	Efficiency float64 `json:"efficiency"`
	Recording  bool    `json:"recording"`
	Warning    string  `json:"warning,omitempty"`
}

type arrayRequest struct {
	Rows *int `json:"rows"`
	Cols *int `json:"cols"`
}

// configRequest replaces the whole setup at once. Every field is required.
type configRequest struct {
	Rows      *int    `json:"rows"`
	Cols      *int    `json:"cols"`
	Panel     *string `json:"panel"`
	Topology  *string `json:"topology"`
	Algorithm *string `json:"algorithm"`
}

type sessionDTO struct {
	ID      string         `json:"id"`
	Started time.Time      `json:"started"`
	Ended   time.Time      `json:"ended"`
	Summary report.Summary `json:"summary"`
}

type entryDTO struct {
	Time        string           `json:"time"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Metrics     recorder.Metrics `json:"metrics"`
	HasCurve    bool             `json:"has_curve"`
}

func toEntryDTOs(entries []recorder.Entry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO{
			Time:        e.TimeLabel(),
			Type:        e.Type,
			Description: e.Description,
			Metrics:     e.Metrics,
			HasCurve:    e.Curve != nil,
		})
	}
	return out
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondSnapshot(w, "")
}

func (s *Server) handleGetPanels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Catalog.List())
}

func (s *Server) handleGetController(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Sim.ControllerState())
}

func (s *Server) handleGetCurve(w http.ResponseWriter, _ *http.Request) {
	curve := s.svc.Sim.LatestCurve()
	if curve == nil {
		writeErr(w, http.StatusNotFound, "no curve below minimum irradiance")
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

func (s *Server) handlePostIrradiance(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.Sim.SetIrradiance)
}

func (s *Server) handlePostTemperature(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, s.svc.Sim.SetTemperature)
}

func (s *Server) handlePostSunPosition(w http.ResponseWriter, r *http.Request) {
	// body: {"value": 50}, a slider position in [0, 100]
	postValue(s, w, r, func(v float64) error {
		g, err := environment.SunIrradiance(v)
		if err != nil {
			return err
		}
		return s.svc.Sim.SetIrradiance(g)
	})
}

func (s *Server) handlePostAlgorithm(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "inccond"}
	postValue(s, w, r, func(v string) error {
		a, err := mppt.ParseAlgorithm(v)
		if err != nil {
			return err
		}
		return s.svc.Sim.SetAlgorithm(a)
	})
}

func (s *Server) handlePostTopology(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "boost"}
	postValue(s, w, r, func(v string) error {
		t, err := converter.ParseTopology(v)
		if err != nil {
			return err
		}
		return s.svc.Sim.SetTopology(t)
	})
}

func (s *Server) handlePostArray(w http.ResponseWriter, r *http.Request) {
	var req arrayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Rows == nil || req.Cols == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'rows' or 'cols'")
		return
	}
	arr, clamped := s.svc.Sim.SetArray(*req.Rows, *req.Cols)
	warning := ""
	if clamped {
		warning = fmt.Sprintf("array clamped to %s", arr)
	}
	s.respondSnapshot(w, warning)
}

func (s *Server) handlePostPanel(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "Mono PERC 400W"}
	postValue(s, w, r, func(name string) error {
		p, err := s.svc.Catalog.Lookup(name)
		if err != nil {
			return err
		}
		return s.svc.Sim.SetPanel(p)
	})
}

func (s *Server) handlePostCustomPanel(w http.ResponseWriter, r *http.Request) {
	var in pv.PanelInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := pv.NewCustomPanel(in)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	// Re-submitting a custom panel replaces nothing in the catalog; it is still applied.
	if err := s.svc.Catalog.Add(p); err != nil && !errors.Is(err, pv.ErrDuplicatePanel) {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Sim.SetPanel(p); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondSnapshot(w, "")
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Rows == nil || req.Cols == nil || req.Panel == nil || req.Topology == nil || req.Algorithm == nil {
		writeErr(w, http.StatusBadRequest, "missing field: rows, cols, panel, topology and algorithm are required")
		return
	}
	cfg, err := s.resolveConfig(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Sim.SetConfig(cfg); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondSnapshot(w, "")
}

func (s *Server) resolveConfig(req configRequest) (simulator.Config, error) {
	panel, err := s.svc.Catalog.Lookup(*req.Panel)
	if err != nil {
		return simulator.Config{}, err
	}
	topo, err := converter.ParseTopology(*req.Topology)
	if err != nil {
		return simulator.Config{}, err
	}
	algo, err := mppt.ParseAlgorithm(*req.Algorithm)
	if err != nil {
		return simulator.Config{}, err
	}
	return simulator.Config{
		Array:     pv.ArrayConfig{Rows: *req.Rows, Cols: *req.Cols},
		Panel:     panel,
		Topology:  topo,
		Algorithm: algo,
	}, nil
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, _ *http.Request) {
	id, err := s.svc.Recorder.Start()
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id.String()})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Recorder.Stop(r.Context())
	if errors.Is(err, recorder.ErrNotRecording) {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		// The session is finished even when a reporter failed.
		klog.ErrorS(err, "Session reporters failed", "session", session.ID)
	}
	writeJSON(w, http.StatusOK, sessionDTO{
		ID:      session.ID.String(),
		Started: session.Started,
		Ended:   session.Ended,
		Summary: report.Summarize(session),
	})
}

func (s *Server) handleRecordingEntries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toEntryDTOs(s.entries()))
}

func (s *Server) handleRecordingCSV(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="session_log.csv"`)
	if err := report.WriteCSV(w, s.entries()); err != nil {
		klog.ErrorS(err, "Write CSV export")
	}
}

func (s *Server) handleRecordingReport(w http.ResponseWriter, _ *http.Request) {
	session, err := s.svc.Recorder.LastSession()
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	s.writeReport(w, session)
}

func (s *Server) writeReport(w http.ResponseWriter, session recorder.Session) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(session.Ended)))
	if err := report.WritePDF(w, session); err != nil {
		klog.ErrorS(err, "Write PDF report", "session", session.ID)
	}
}

func (s *Server) handleArchiveSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	sessions, err := s.svc.Archive.Sessions(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []archive.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleArchiveReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.svc.Archive.Session(r.Context(), id)
	if errors.Is(err, archive.ErrSessionNotFound) {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeReport(w, session)
}

// entries is the live log while recording, otherwise the last finished session.
func (s *Server) entries() []recorder.Entry {
	if s.svc.Recorder.Active() {
		return s.svc.Recorder.Entries()
	}
	if last, err := s.svc.Recorder.LastSession(); err == nil {
		return last.Entries
	}
	return nil
}

// ---- generic helpers ----
func (s *Server) respondSnapshot(w http.ResponseWriter, warning string) {
	snap := s.svc.Sim.Get()
	dto := snapshotDTO{
		DeviceID:   s.deviceID,
		Snapshot:   snap,
		Efficiency: snap.Latest.Efficiency(),
		Warning:    warning,
	}
	if s.svc.Recorder != nil {
		dto.Recording = s.svc.Recorder.Active()
	}
	writeJSON(w, http.StatusOK, dto)
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondSnapshot(w, "")
}

type locationDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleGetWeatherLocation(w http.ResponseWriter, _ *http.Request) {
	lat, lon := s.svc.Weather.Location()
	writeJSON(w, http.StatusOK, locationDTO{Latitude: lat, Longitude: lon})
}

func (s *Server) handlePostWeatherLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErr(w, http.StatusBadRequest, "query is required")
		return
	}
	reading, err := s.svc.Weather.Relocate(r.Context(), req.Query)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording), errors.Is(err, recorder.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrNoSession):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
