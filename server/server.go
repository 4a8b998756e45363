package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"auto_content_pipeline/depth"
	"auto_content_pipeline/pipeline"
)

// Runner is the part of pipeline.Runner the API needs.
type Runner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (pipeline.RunReport, error)
}

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

type runRecord struct {
	ID        string              `json:"run_id"`
	Status    Status              `json:"status"`
	Request   pipeline.RunRequest `json:"request"`
	Report    *pipeline.RunReport `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
	Phase     depth.Phase         `json:"phase,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type runStore struct {
	mu   sync.Mutex
	runs map[string]*runRecord
}

func newStore() *runStore {
	return &runStore{runs: make(map[string]*runRecord)}
}

func (s *runStore) set(rec *runRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec
}

// get 返回副本，避免调用方与后台任务并发读写同一条记录。
func (s *runStore) get(id string) (runRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return runRecord{}, false
	}
	return *rec, true
}

func (s *runStore) update(id string, fn func(*runRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.runs[id]; ok {
		fn(rec)
		rec.UpdatedAt = time.Now()
	}
}

func (s *runStore) list() []runRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]runRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type Server struct {
	runner  Runner
	store   *runStore
	timeout time.Duration
	wg      sync.WaitGroup

	// 后台任务都派生自 base，Shutdown 超时后统一取消
	base   context.Context
	cancel context.CancelFunc
}

// New builds the HTTP API. timeout bounds one run; 0 means no limit.
func New(runner Runner, timeout time.Duration) (*Server, error) {
	if runner == nil {
		return nil, errors.New("pipeline runner required")
	}
	if timeout < 0 {
		return nil, errors.New("run timeout must not be negative")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{runner: runner, store: newStore(), timeout: timeout, base: base, cancel: cancel}, nil
}

func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/runs", s.handleRunCreate)
		api.GET("/runs", s.handleRunList)
		api.GET("/runs/:id", s.handleRunGet)
	}
	return r
}

// Wait blocks until every background run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Shutdown waits for background runs until ctx is done, then cancels the
// ones still going and waits for them to record their failure.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}
	klog.Warningf("[server] shutdown deadline reached; cancelling running jobs")
	s.cancel()
	<-done
	return ctx.Err()
}

// --- Handlers ---

type runCreateReq struct {
	Stage    string         `json:"stage" binding:"required"`
	Unit     string         `json:"unit"`
	Inputs   map[string]any `json:"inputs"`
	Depth    int            `json:"depth"`
	SizeHint int            `json:"size_hint"`
	Refresh  bool           `json:"refresh"`
}

func (s *Server) handleRunCreate(c *gin.Context) {
	var req runCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Depth != 0 {
		if err := depth.ValidateDepth(req.Depth); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	now := time.Now()
	rec := &runRecord{
		ID:     uuid.NewString(),
		Status: StatusPending,
		Request: pipeline.RunRequest{
			Stage:    req.Stage,
			Unit:     req.Unit,
			Inputs:   req.Inputs,
			Depth:    req.Depth,
			SizeHint: req.SizeHint,
			Refresh:  req.Refresh,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Request.RunID = rec.ID
	s.store.set(rec)

	// wait=true 时同步执行，便于脚本调用
	if c.Query("wait") == "true" {
		s.execute(c.Request.Context(), rec.ID, rec.Request)
		done, _ := s.store.get(rec.ID)
		code := http.StatusOK
		if done.Status == StatusFailed {
			code = http.StatusBadGateway
		}
		c.JSON(code, done)
		return
	}

	accepted := *rec
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.base, accepted.ID, accepted.Request)
	}()
	c.JSON(http.StatusAccepted, accepted)
}

func (s *Server) handleRunGet(c *gin.Context) {
	rec, ok := s.store.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRunList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.store.list()})
}

func (s *Server) execute(ctx context.Context, id string, req pipeline.RunRequest) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.store.update(id, func(r *runRecord) { r.Status = StatusRunning })

	report, err := s.runner.Run(ctx, req)
	if err != nil {
		klog.Errorf("[server] run %s failed: %v", id, err)
		s.store.update(id, func(r *runRecord) {
			r.Status = StatusFailed
			r.Error = err.Error()
			var stageErr *depth.StageError
			if errors.As(err, &stageErr) {
				r.Phase = stageErr.Phase
			}
		})
		return
	}
	s.store.update(id, func(r *runRecord) {
		r.Status = StatusDone
		r.Report = &report
	})
}

// --- Helpers ---

func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.V(2).Infof("[http] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
