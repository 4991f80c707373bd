package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"photo-squeeze/internal/compressor"
	"photo-squeeze/internal/config"
	"photo-squeeze/internal/processor"
	"photo-squeeze/internal/report"
	"photo-squeeze/internal/scanner"
	"photo-squeeze/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	compressor compressor.Compressor
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	cancel         context.CancelFunc
	done           chan struct{}
	currentStats   *statistics.Statistics
	results        []compressor.Result
	lastTarget     int64
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CompressRequest starts a run. Omitted fields fall back to the server configuration.
type CompressRequest struct {
	Directory   string   `json:"directory"`
	TargetMB    *float64 `json:"target_mb,omitempty"`
	Recursive   *bool    `json:"recursive,omitempty"`
	MinQuality  *int     `json:"min_quality,omitempty"`
	QualityStep *int     `json:"quality_step,omitempty"`
	ResizeStep  *float64 `json:"resize_step,omitempty"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, comp compressor.Compressor) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		compressor: comp,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/results", s.handleGetResults).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels any active run and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.RLock()
	cancel := s.cancel
	s.operationMutex.RUnlock()
	if cancel != nil {
		cancel()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}

	dir, err := scanner.ResolveDirectory(req.Directory)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := s.runConfig(req, dir)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stats := statistics.NewStatistics()

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		cancel()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.currentStats = stats
	s.results = nil
	s.lastTarget = cfg.TargetBytes()
	done := s.done
	s.operationMutex.Unlock()

	go s.runCompressAsync(ctx, cfg, stats, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
		Data: map[string]interface{}{
			"directory":   dir,
			"target_size": cfg.TargetBytes(),
		},
	})
}

// runConfig applies the request overrides to a copy of the server configuration.
func (s *Server) runConfig(req CompressRequest, dir string) (*config.Config, error) {
	cfg := *s.cfg
	cfg.SourceDirectory = dir
	if req.TargetMB != nil {
		cfg.Compression.TargetMB = *req.TargetMB
	}
	if req.Recursive != nil {
		cfg.Recursive = *req.Recursive
	}
	if req.MinQuality != nil {
		cfg.Compression.MinQuality = *req.MinQuality
	}
	if req.QualityStep != nil {
		cfg.Compression.QualityStep = *req.QualityStep
	}
	if req.ResizeStep != nil {
		cfg.Compression.ResizeStep = *req.ResizeStep
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	cancel := s.cancel
	s.operationMutex.RUnlock()

	if !running || cancel == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Message: "No operation in progress",
		})
		return
	}

	cancel()

	s.broadcastWSMessage("operation_stopped", map[string]interface{}{
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopping",
	})
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	directories := make([]DirectoryInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		directories = append(directories, DirectoryInfo{
			Path:         filepath.Join(path, entry.Name()),
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": stats.GetSummary(),
			"files":   stats.Snapshot(),
		},
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	results := make([]compressor.Result, len(s.results))
	copy(results, s.results)
	target := s.lastTarget
	running := s.isRunning
	s.operationMutex.RUnlock()

	lines := make([]string, len(results))
	for i, res := range results {
		lines[i] = report.Line(res)
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":     running,
			"target_size": target,
			"results":     results,
			"report":      lines,
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runCompressAsync(ctx context.Context, cfg *config.Config, stats *statistics.Statistics, done chan struct{}) {
	defer close(done)

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"directory":   cfg.SourceDirectory,
		"target_size": cfg.TargetBytes(),
		"recursive":   cfg.Recursive,
	})

	proc := processor.NewProcessorWithLogHook(cfg, s.log, stats, s.compressor, func(level, message string) {
		s.broadcastWSMessage("log", map[string]interface{}{
			"level":   level,
			"message": message,
		})
	})
	proc.OnResult(func(index, total int, res compressor.Result) {
		s.operationMutex.Lock()
		s.results = append(s.results, res)
		s.operationMutex.Unlock()

		s.broadcastWSMessage("file_compressed", map[string]interface{}{
			"index":  index,
			"total":  total,
			"result": res,
		})
	})

	results, err := proc.Run(ctx, cfg.SourceDirectory)

	s.operationMutex.Lock()
	if results != nil {
		s.results = results
	}
	s.isRunning = false
	s.cancel = nil
	s.operationMutex.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		s.broadcastWSMessage("compress_completed", map[string]interface{}{
			"cancelled":  true,
			"statistics": stats.GetSummary(),
		})
	case err != nil:
		s.broadcastWSMessage("compress_error", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		s.broadcastWSMessage("compress_completed", map[string]interface{}{
			"cancelled":  false,
			"statistics": stats.GetSummary(),
		})
	}
}

// wait blocks until the current run, if any, has finished.
func (s *Server) wait() {
	s.operationMutex.RLock()
	done := s.done
	s.operationMutex.RUnlock()
	if done != nil {
		<-done
	}
}

// broadcastWSMessage sends to every client. Writes are serialized since a
// websocket.Conn supports a single concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	}); err != nil {
		s.log.Errorf("Failed to write error response: %v", err)
	}
}
