package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ERP-Agents/internal/action"
	"ERP-Agents/internal/dispatch"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/observability/metrics"
	"ERP-Agents/internal/orchestrator"
	"ERP-Agents/pkg/logger"
)

// Server 暴露智能体管道的 REST 接口。
type Server struct {
	addr      string
	registry  *orchestrator.Registry
	ledger    *action.Ledger
	publisher dispatch.Producer
}

// ServerOption 调整 API 服务的可选行为。
type ServerOption func(*Server)

// WithPublisher 设置人工批准后投递行动的队列生产者。
func WithPublisher(producer dispatch.Producer) ServerOption {
	return func(s *Server) {
		s.publisher = producer
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, registry *orchestrator.Registry, ledger *action.Ledger, opts ...ServerOption) *Server {
	s := &Server{addr: addr, registry: registry, ledger: ledger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回完整的路由表，便于测试直接挂载。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/agents/{domain}/run", s.instrument("agent_run", s.handleRun))
	mux.HandleFunc("GET /api/v1/agents/{domain}/actions", s.instrument("agent_actions", s.handleDomainActions))
	mux.HandleFunc("GET /api/v1/actions/stats", s.instrument("action_stats", s.handleStats))
	mux.HandleFunc("GET /api/v1/actions/{id}", s.instrument("action_get", s.handleGetAction))
	mux.HandleFunc("POST /api/v1/actions/{id}/approve", s.instrument("action_approve", s.handleApprove))
	mux.HandleFunc("POST /api/v1/actions/{id}/reject", s.instrument("action_reject", s.handleReject))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 为业务端点记录请求指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type runRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	domain := action.Domain(r.PathValue("domain"))

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "request body is not valid JSON"))
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "action is required"))
		return
	}

	result, err := s.registry.Execute(r.Context(), domain, req.Action, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleDomainActions(w http.ResponseWriter, r *http.Request) {
	domain := action.Domain(r.PathValue("domain"))
	limit := parseLimit(r.URL.Query().Get("limit"))

	actions, err := s.registry.Actions(r.Context(), domain, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"agentDomain": domain,
		"actions":     actions,
	})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	act, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  act,
	})
}

type reviewRequest struct {
	Operator string `json:"approved_by"`
	Reason   string `json:"reason"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "request body is not valid JSON"))
		return
	}
	act, err := s.ledger.Approve(r.Context(), r.PathValue("id"), req.Operator)
	if err != nil {
		writeError(w, err)
		return
	}
	// 批准后把行动 ID 投递到队列，由派发工作者异步执行。
	// 入队失败不回滚批准状态，行动保持 approved 等待重新投递。
	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), act.ID); err != nil {
			logger.L().Error("已批准行动入队失败", "action_id", act.ID, "error", err.Error())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  act,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "request body is not valid JSON"))
		return
	}
	act, err := s.ledger.Reject(r.Context(), r.PathValue("id"), req.Operator, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"action":  act,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   stats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func parseLimit(raw string) int {
	limit := 20
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 把错误码映射到 HTTP 状态并返回统一的错误结构。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusForCode(code)
	if status >= 500 {
		logger.L().Error("request failed", "error", err.Error(), "code", string(code))
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}

func statusForCode(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, xerrors.CodeUnsupportedAction:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, action.CodeActionNotFound:
		return http.StatusNotFound
	case action.CodeApprovalDenied:
		return http.StatusForbidden
	case xerrors.CodeConflict, action.CodeActionConflict, action.CodeActionTerminal:
		return http.StatusConflict
	case xerrors.CodeExtraction, xerrors.CodeDispatch:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "service shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
