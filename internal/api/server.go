package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/journal"
	"forgeflow/internal/observability/metrics"
	"forgeflow/internal/queue"
	"forgeflow/pkg/logger"
)

const (
	defaultJournalLimit = 20
	maxJournalLimit     = 500
	maxEventBody        = 1 << 20
)

// Status 提供 Agent 的运行状态。
type Status interface {
	InFlight() int64
	Triggers() []string
}

// Options 描述 Server 依赖的组件，除 Status 外均可为空。
type Options struct {
	Status   Status
	Journal  journal.Repository
	Producer queue.Producer
	// Token 非空时，投递事件需要携带 Bearer 令牌。
	Token  string
	Logger *slog.Logger
}

// Server 负责暴露状态与事件投递接口。
type Server struct {
	addr     string
	status   Status
	journal  journal.Repository
	producer queue.Producer
	token    string
	log      *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Named("api")
	}
	return &Server{
		addr:     addr,
		status:   opts.Status,
		journal:  opts.Journal,
		producer: opts.Producer,
		token:    opts.Token,
		log:      log,
	}
}

// Handler 返回带指标采集的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/v1/journal", instrument("/api/v1/journal", http.HandlerFunc(s.handleJournal)))
	mux.Handle("POST /api/v1/events", instrument("/api/v1/events", requireToken(s.token, http.HandlerFunc(s.handleEvents))))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。上下文取消时返回 nil。
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
	s.log.Info("API 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("API 服务关闭超时", "error", err)
		}
		s.log.Info("API 服务已停止")
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeIO, err, "API 服务异常退出", xerrors.WithMetadata("address", s.addr))
	}
}

type healthResponse struct {
	Status   string   `json:"status"`
	InFlight int64    `json:"in_flight"`
	Triggers []string `json:"triggers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Triggers: []string{}}
	if s.status != nil {
		resp.InFlight = s.status.InFlight()
		resp.Triggers = s.status.Triggers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "调用日志未启用"))
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为正整数", xerrors.WithMetadata("limit", raw)))
			return
		}
		limit = min(parsed, maxJournalLimit)
	}

	records, err := s.journal.ListLatest(r.Context(), limit)
	if err != nil {
		s.log.Warn("读取调用日志失败", "error", err)
		writeError(w, err)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type eventRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "事件队列未启用"))
		return
	}
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if req.Name == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "事件名称不能为空"))
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "事件编码失败"))
		return
	}
	if err := s.producer.Publish(r.Context(), body); err != nil {
		s.log.Warn("投递事件失败", "event", req.Name, "error", err)
		writeError(w, xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递事件失败"))
		return
	}
	s.log.Info("事件已入队", "event", req.Name)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "name": req.Name})
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, httpStatus(code), errorResponse{
		Code:    string(code),
		Message: err.Error(),
		Details: xerrors.MetadataOf(err),
	})
}

func httpStatus(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeQueueFailure, xerrors.CodeStorageFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(started))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
