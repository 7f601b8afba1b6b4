package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/threadtop-web/internal/api"
	"github.com/skobkin/threadtop-web/internal/config"
	"github.com/skobkin/threadtop-web/internal/procscan"
	"github.com/skobkin/threadtop-web/internal/sampler"
	"github.com/skobkin/threadtop-web/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
	jsonContentType   = "application/json; charset=utf-8"
)

var statPathPattern = regexp.MustCompile(`^/stat/(\d+)/?$`)

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	scanner    *procscan.Scanner
	sampler    *sampler.Manager
	openAPI    []byte

	snapshotSeconds prometheus.Histogram

	searches      atomic.Uint64
	snapshots     atomic.Uint64
	threadsRead   atomic.Uint64
	threadsFailed atomic.Uint64
	badRequests   atomic.Uint64

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, scanner *procscan.Scanner, samplerManager *sampler.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		scanner: scanner,
		sampler: samplerManager,
		snapshotSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "threadtop",
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Time spent capturing a process snapshot for /stat requests.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	doc, err := json.Marshal(newOpenAPIDoc(version.Current().Version))
	if err != nil {
		logger.Error("failed to encode openapi document", "err", err)
	}
	s.openAPI = doc

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api", s.handleAPIDocs)
	mux.HandleFunc("/api/", s.handleAPIDocs)
	mux.HandleFunc("/api/openapi.json", s.handleOpenAPI)
	mux.HandleFunc("/api/processes/", s.handleProcessInfo)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/stat/", s.handleStat)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", s.staticHandler())

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// allowGet rejects anything but GET with 405 and reports whether to continue.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	w.Header().Set("Content-Type", jsonContentType)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleAPIDocs(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	if r.URL.Path != "/api" && r.URL.Path != "/api/" {
		http.NotFound(w, r)
		return
	}

	logger := s.loggerFromContext(r.Context())
	data, err := embeddedAssets.ReadFile("assets/api.html")
	if err != nil {
		logger.Error("failed to read api docs asset", "err", err)
		http.Error(w, "missing api docs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		logger.Warn("failed to write api docs response", "err", err)
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if len(s.openAPI) == 0 {
		http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	_, _ = w.Write(s.openAPI)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.scanner == nil {
		http.Error(w, "process scanner unavailable", http.StatusServiceUnavailable)
		return
	}

	// A missing q is the empty string and matches every process.
	query := r.URL.Query().Get("q")
	logger := s.loggerFromContext(r.Context())

	pids, err := s.scanner.FindByName(r.Context(), query)
	if err != nil {
		logger.Error("process search failed", "query", query, "err", err)
		http.Error(w, "process search failed", http.StatusInternalServerError)
		return
	}
	s.searches.Add(1)
	logger.Debug("process search", "query", query, "matches", len(pids))

	s.writeJSON(w, r, http.StatusOK, api.SearchResponse{PIDs: pids})
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	pid, ok := parseStatPID(r.URL.Path)
	if !ok {
		s.badRequests.Add(1)
		w.Header().Set("Content-Type", jsonContentType)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("{}"))
		return
	}
	if s.scanner == nil {
		http.Error(w, "process scanner unavailable", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	snapshot := s.scanner.Snapshot(r.Context(), pid)
	s.snapshotSeconds.Observe(time.Since(start).Seconds())
	s.snapshots.Add(1)
	s.threadsRead.Add(uint64(len(snapshot.ThreadStats)))
	if invalid := snapshot.Invalid(); invalid > 0 {
		s.threadsFailed.Add(uint64(invalid))
		s.loggerFromContext(r.Context()).Debug("snapshot contains unreadable threads", "pid", pid, "invalid", invalid)
	}

	s.writeJSON(w, r, http.StatusOK, snapshot)
}

// parseStatPID extracts the pid from /stat/<pid> with an optional trailing
// slash. The path has already been URL-decoded by net/http.
func parseStatPID(path string) (int, bool) {
	match := statPathPattern.FindStringSubmatch(strings.TrimSpace(path))
	if match == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}

func (s *Server) handleProcessInfo(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	// Kernel pids are 32-bit; wider values would alias another process.
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/processes/"), "/")
	parsed, err := strconv.ParseInt(raw, 10, 32)
	pid := int(parsed)
	if err != nil || pid <= 0 {
		s.badRequests.Add(1)
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	procRoot := s.cfg.ProcRoot
	if s.scanner != nil {
		procRoot = s.scanner.ProcRoot()
	}

	logger := s.loggerFromContext(r.Context())
	info, err := lookupProcessInfo(r.Context(), procRoot, pid)
	if err != nil {
		if errors.Is(err, errProcessNotFound) {
			http.NotFound(w, r)
			return
		}
		logger.Warn("process info lookup failed", "pid", pid, "err", err)
		http.Error(w, "process info unavailable", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func (s *Server) readiness() readyResponse {
	if s.scanner == nil {
		return readyResponse{Status: "degraded", Reason: "scanner_not_configured"}
	}
	resp := readyResponse{ProcRoot: s.scanner.ProcRoot()}
	if err := s.scanner.Check(); err != nil {
		s.logger.Warn("proc root check failed", "err", err)
		resp.Status = "degraded"
		resp.Reason = "proc_root_unreadable"
		return resp
	}
	resp.Status = "ok"
	if s.sampler != nil {
		resp.Watched = len(s.sampler.Watched())
	}
	return resp
}

type readyResponse struct {
	Status   string `json:"status"`
	ProcRoot string `json:"proc_root,omitempty"`
	Watched  int    `json:"watched_pids"`
	Reason   string `json:"reason,omitempty"`
}
