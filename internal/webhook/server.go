// Package webhook exposes remediation actions over an authenticated HTTP
// surface. Requests return 202 immediately; the work runs in a background
// job that reports its outcome through the notifier.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"

	"github.com/jsprague84/updatectl/internal/cleanup"
	"github.com/jsprague84/updatectl/internal/executor"
	"github.com/jsprague84/updatectl/internal/log"
	"github.com/jsprague84/updatectl/internal/notify"
	"github.com/jsprague84/updatectl/internal/registry"
	"github.com/jsprague84/updatectl/internal/update"
)

// DefaultJobTimeout bounds one background job. Full OS upgrades on slow
// hosts can take a while.
const DefaultJobTimeout = 30 * time.Minute

// Config wires a webhook Server.
type Config struct {
	Registry *registry.Registry
	Secret   string
	Logger   *log.Logger
	Notifier notify.Notifier

	// NewRunner builds the command runner for a resolved server.
	NewRunner func(registry.Server) executor.Runner
	// NewCleaner builds the cleanup backend for a runner. Defaults to
	// cleanup.For.
	NewCleaner func(executor.Runner) cleanup.Cleaner

	Docker             update.DockerOptions
	StoppedAgeDays     int
	UnusedImageAgeDays int
	JobTimeout         time.Duration
}

// Server dispatches webhook requests into background jobs.
type Server struct {
	cfg  Config
	jobs *jobStore
}

// New creates a webhook server. The secret must be non-empty; requests are
// rejected otherwise.
func New(cfg Config) *Server {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.NewCleaner == nil {
		cfg.NewCleaner = func(r executor.Runner) cleanup.Cleaner {
			return cleanup.For(r, cfg.Logger, cfg.StoppedAgeDays)
		}
	}
	return &Server{cfg: cfg, jobs: newJobStore()}
}

// workFunc performs one operation against one server. image is only set
// for the single-image update endpoint.
type workFunc func(ctx context.Context, srv registry.Server, image string) (string, error)

// Handler builds the HTTP handler with all webhook routes mounted.
func (s *Server) Handler() http.Handler {
	container := restful.NewContainer()

	ws := new(restful.WebService)
	ws.Produces(restful.MIME_JSON)

	serverParam := ws.QueryParameter("server", "registered server name").Required(true)
	tokenParam := ws.QueryParameter("token", "shared webhook secret").Required(true)

	ws.Route(ws.POST("/webhook/update/os").
		To(s.dispatch(OpUpdateOS, false, s.updateOS)).
		Doc("upgrade OS packages on a server").
		Param(serverParam).Param(tokenParam))

	ws.Route(ws.POST("/webhook/update/docker/all").
		To(s.dispatch(OpUpdateDockerAll, false, s.updateDockerAll)).
		Doc("pull all images and restart their containers").
		Param(serverParam).Param(tokenParam))

	ws.Route(ws.POST("/webhook/update/docker/image").
		To(s.dispatch(OpUpdateDockerImage, true, s.updateDockerImage)).
		Doc("pull one image and restart its containers").
		Param(serverParam).Param(tokenParam).
		Param(ws.QueryParameter("image", "image reference to update").Required(true)))

	ws.Route(ws.POST("/webhook/cleanup/safe").
		To(s.dispatch(OpCleanupSafe, false, s.cleanupSafe)).
		Doc("run conservative docker cleanup").
		Param(serverParam).Param(tokenParam))

	ws.Route(ws.POST("/webhook/cleanup/images/prune-unused").
		To(s.dispatch(OpPruneUnusedImages, false, s.pruneUnusedImages)).
		Doc("prune unused images past the age threshold").
		Param(serverParam).Param(tokenParam))

	ws.Route(ws.GET("/health").To(s.health).Doc("liveness probe"))

	container.Add(ws)
	return container
}

// ListenAndServe blocks serving webhook requests on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.cfg.Logger.Info("Webhook server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) health(_ *restful.Request, resp *restful.Response) {
	resp.WriteHeader(http.StatusOK)
	fmt.Fprint(resp, "OK")
}

// dispatch authenticates a request, resolves its server, and hands the
// actual work to a background job.
func (s *Server) dispatch(op Operation, needsImage bool, work workFunc) restful.RouteFunction {
	return func(req *restful.Request, resp *restful.Response) {
		requestID := uuid.NewString()

		token := req.QueryParameter("token")
		if !tokenMatches(token, s.cfg.Secret) {
			// Never log the presented token.
			s.cfg.Logger.Warn("request %s: invalid webhook token for %s from %s", requestID, op, req.Request.RemoteAddr)
			writeText(resp, http.StatusUnauthorized, "Invalid token")
			return
		}

		name := req.QueryParameter("server")
		srv, err := s.cfg.Registry.Resolve(name)
		if err != nil {
			s.cfg.Logger.Warn("request %s: unknown server %q for %s (known: %s)", requestID, name, op, strings.Join(s.cfg.Registry.Names(), ", "))
			writeText(resp, http.StatusBadRequest, fmt.Sprintf("Unknown server: %s", name))
			return
		}

		image := req.QueryParameter("image")
		if needsImage && image == "" {
			writeText(resp, http.StatusBadRequest, "Missing image parameter")
			return
		}

		job := newJob(op, srv.Name)
		s.jobs.add(job)
		s.cfg.Logger.Info("request %s: accepted %s for %s as job %s", requestID, op, srv.Name, job.ID)

		go s.runJob(job, srv, image, work)

		writeText(resp, http.StatusAccepted, acceptedMessage(op, srv.Name, image))
	}
}

// runJob drives one job through its lifecycle, sends exactly one
// notification when it reaches a terminal state, and then discards it.
func (s *Server) runJob(job *Job, srv registry.Server, image string, work workFunc) {
	defer s.jobs.remove(job.ID)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	if err := job.transition(JobRunning, ""); err != nil {
		s.cfg.Logger.Error("job %s: %v", job.ID, err)
		return
	}

	var title, body string
	message, err := work(ctx, srv, image)
	if err != nil {
		s.cfg.Logger.Error("job %s (%s on %s) failed: %v", job.ID, job.Operation, srv.Name, err)
		if terr := job.transition(JobFailed, err.Error()); terr != nil {
			s.cfg.Logger.Error("job %s: %v", job.ID, terr)
		}
		title = fmt.Sprintf("%s - %s failed", srv.Name, operationTitle(job.Operation))
		body = fmt.Sprintf("Error: %v", err)
	} else {
		s.cfg.Logger.Info("job %s (%s on %s) completed: %s", job.ID, job.Operation, srv.Name, message)
		if terr := job.transition(JobCompleted, message); terr != nil {
			s.cfg.Logger.Error("job %s: %v", job.ID, terr)
		}
		title = fmt.Sprintf("%s - %s complete", srv.Name, operationTitle(job.Operation))
		body = message
	}

	if nerr := s.cfg.Notifier.Send(ctx, notify.Message{Title: title, Body: body}); nerr != nil {
		s.cfg.Logger.Warn("job %s: sending notification: %v", job.ID, nerr)
	}
}

func (s *Server) updateOS(ctx context.Context, srv registry.Server, _ string) (string, error) {
	return update.ApplyOS(ctx, s.cfg.NewRunner(srv), s.cfg.Logger, false)
}

func (s *Server) updateDockerAll(ctx context.Context, srv registry.Server, _ string) (string, error) {
	opts := s.cfg.Docker
	opts.All = true
	opts.Images = nil
	return update.ApplyDocker(ctx, s.cfg.NewRunner(srv), s.cfg.Logger, opts)
}

func (s *Server) updateDockerImage(ctx context.Context, srv registry.Server, image string) (string, error) {
	opts := s.cfg.Docker
	opts.All = false
	opts.Images = []string{image}
	return update.ApplyDocker(ctx, s.cfg.NewRunner(srv), s.cfg.Logger, opts)
}

func (s *Server) cleanupSafe(ctx context.Context, srv registry.Server, _ string) (string, error) {
	cleaner := s.cfg.NewCleaner(s.cfg.NewRunner(srv))
	result, err := cleaner.Execute(ctx, cleanup.Conservative)
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

func (s *Server) pruneUnusedImages(ctx context.Context, srv registry.Server, _ string) (string, error) {
	result, err := cleanup.PruneUnusedImages(ctx, s.cfg.NewRunner(srv), s.cfg.UnusedImageAgeDays)
	if err != nil {
		return "", err
	}
	return result.Summary(), nil
}

func operationTitle(op Operation) string {
	switch op {
	case OpUpdateOS:
		return "OS update"
	case OpUpdateDockerAll, OpUpdateDockerImage:
		return "Docker update"
	case OpCleanupSafe:
		return "Safe cleanup"
	case OpPruneUnusedImages:
		return "Image cleanup"
	}
	return string(op)
}

func acceptedMessage(op Operation, server, image string) string {
	switch op {
	case OpUpdateOS:
		return fmt.Sprintf("OS update started for %s", server)
	case OpUpdateDockerAll:
		return fmt.Sprintf("Docker update started for %s", server)
	case OpUpdateDockerImage:
		return fmt.Sprintf("Docker image %s update started for %s", image, server)
	case OpCleanupSafe:
		return fmt.Sprintf("Safe cleanup started for %s", server)
	case OpPruneUnusedImages:
		return fmt.Sprintf("Unused image cleanup started for %s", server)
	}
	return fmt.Sprintf("%s started for %s", op, server)
}

func writeText(resp *restful.Response, status int, body string) {
	resp.AddHeader("Content-Type", "text/plain")
	resp.WriteHeader(status)
	fmt.Fprint(resp, body)
}
