package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
	"postflow/internal/publish"
	"postflow/internal/queue"
	"postflow/internal/scheduler"
)

// PostQueue is the subset of the delivery queue the API calls into.
type PostQueue interface {
	Schedule(content string, at time.Time) (domain.Post, error)
	PublishNow(ctx context.Context, content string) (domain.DeliveryResult, error)
	ProcessDue(ctx context.Context, now time.Time) []domain.Post
	GetPending() []domain.Post
	GetPosted() []domain.Post
	GetFailed() []domain.Post
	Get(id string) (domain.Post, bool)
	Stats() queue.Stats
	PublisherMode() string
}

// TaskStatus reports scheduler state for /api/status and /metrics.
type TaskStatus interface {
	Running() bool
	Tasks() []scheduler.TaskInfo
}

type Server struct {
	r     *chi.Mux
	queue PostQueue
	tasks TaskStatus
	now   func() time.Time
}

var validate = validator.New()

func NewServer(q PostQueue, tasks TaskStatus) http.Handler {
	return NewServerWithDebug(q, tasks, false)
}

func NewServerWithDebug(q PostQueue, tasks TaskStatus, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, queue: q, tasks: tasks, now: time.Now}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/status", s.status)

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/schedule", s.schedulePost)
		r.Post("/publish", s.publishNow)
		r.Post("/process", s.processDue)
		r.Get("/pending", s.listPending)
		r.Get("/posted", s.listPosted)
		r.Get("/failed", s.listFailed)
		r.Get("/{id}", s.getPost)
	})

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		r.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		r.Handle("/debug/pprof/block", pprof.Handler("block"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Stats()
	var b strings.Builder
	b.WriteString("postflow_up 1\n")
	fmt.Fprintf(&b, "postflow_posts{status=\"scheduled\"} %d\n", st.Scheduled)
	fmt.Fprintf(&b, "postflow_posts{status=\"posted\"} %d\n", st.Posted)
	fmt.Fprintf(&b, "postflow_posts{status=\"failed\"} %d\n", st.Failed)
	fmt.Fprintf(&b, "postflow_snapshot_save_failures_total %d\n", st.SaveFailures)
	live := 0
	if s.queue.PublisherMode() == publish.ModeLive {
		live = 1
	}
	fmt.Fprintf(&b, "postflow_publisher_live %d\n", live)
	if s.tasks != nil {
		for _, t := range s.tasks.Tasks() {
			fmt.Fprintf(&b, "postflow_task_runs_total{task=%q} %d\n", t.Name, t.Runs)
			fmt.Fprintf(&b, "postflow_task_consecutive_failures{task=%q} %d\n", t.Name, t.ConsecutiveFailures)
		}
	}

	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

type statusResp struct {
	PublisherMode string           `json:"publisherMode"`
	LiveAPI       bool             `json:"liveApi"`
	PendingPosts  int              `json:"pendingPosts"`
	Queue         queue.Stats      `json:"queue"`
	Scheduler     *schedulerStatus `json:"scheduler,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

type schedulerStatus struct {
	Running bool                 `json:"running"`
	Tasks   []scheduler.TaskInfo `json:"tasks"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Stats()
	resp := statusResp{
		PublisherMode: s.queue.PublisherMode(),
		LiveAPI:       s.queue.PublisherMode() == publish.ModeLive,
		PendingPosts:  st.Scheduled,
		Queue:         st,
		Timestamp:     s.now().UTC(),
	}
	if s.tasks != nil {
		resp.Scheduler = &schedulerStatus{Running: s.tasks.Running(), Tasks: s.tasks.Tasks()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type scheduleReq struct {
	Content       string `json:"content" validate:"required"`
	ScheduledTime string `json:"scheduledTime" validate:"required"`
}

// UnmarshalJSON also accepts scheduled_time.
func (req *scheduleReq) UnmarshalJSON(data []byte) error {
	var raw struct {
		Content            string `json:"content"`
		ScheduledTime      string `json:"scheduledTime"`
		ScheduledTimeSnake string `json:"scheduled_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req.Content = raw.Content
	req.ScheduledTime = raw.ScheduledTime
	if req.ScheduledTime == "" {
		req.ScheduledTime = raw.ScheduledTimeSnake
	}
	return nil
}

func (s *Server) schedulePost(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), 400)
		return
	}
	at, err := domain.ParseTime(req.ScheduledTime)
	if err != nil {
		http.Error(w, "scheduledTime: "+err.Error(), 400)
		return
	}
	post, err := s.queue.Schedule(req.Content, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

type publishReq struct {
	Content string `json:"content" validate:"required"`
}

func (s *Server) publishNow(w http.ResponseWriter, r *http.Request) {
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), 400)
		return
	}
	res, err := s.queue.PublishNow(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) processDue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.ProcessDue(r.Context(), s.now()))
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.GetPending())
}

func (s *Server) listPosted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.GetPosted())
}

func (s *Server) listFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.GetFailed())
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, ok := s.queue.Get(id)
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		return fmt.Sprintf("%s is %s", field, fe.Tag())
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrValidation) {
		http.Error(w, err.Error(), 400)
		return
	}
	log.Error().Err(err).Msg("request failed")
	http.Error(w, err.Error(), 500)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
