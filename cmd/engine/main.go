// Command engine boots the workflow execution engine standalone: the
// Object Store, Execution Store, Credit Service, Node Registry and
// Runtime façade (internal/engine/*), wired to a relational backend
// (postgres or sqlite, falling back to an in-memory store for local
// runs) and exposed over a small HTTP API in the same ada + middleware
// shape cmd/at/internal/server uses for its own endpoints.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/ada"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/at-engine/internal/cluster"
	"github.com/rakunlabs/at-engine/internal/config"
	"github.com/rakunlabs/at-engine/internal/engine/credit"
	"github.com/rakunlabs/at-engine/internal/engine/execstore"
	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/monitor"
	"github.com/rakunlabs/at-engine/internal/engine/nodes"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore/fsbucket"
	"github.com/rakunlabs/at-engine/internal/engine/objectstore/s3bucket"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
	"github.com/rakunlabs/at-engine/internal/engine/runtime"
	"github.com/rakunlabs/at-engine/internal/service"
	"github.com/rakunlabs/at-engine/internal/store"
	"github.com/rakunlabs/at-engine/internal/store/memory"
)

var (
	name    = "at-engine"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// backing is the relational surface the engine itself needs, satisfied
// by store.Storer (postgres/sqlite) and by memory.Memory alike.
type backing interface {
	execstore.RowStore
	credit.Ledger

	ListEnabledCronTriggers(ctx context.Context) ([]service.Trigger, error)
	GetTrigger(ctx context.Context, id string) (*service.Trigger, error)
	GetTriggerByAlias(ctx context.Context, alias string) (*service.Trigger, error)
	GetAPITokenByHash(ctx context.Context, hash string) (*service.APIToken, error)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var (
		back    backing
		closeFn func()
	)

	switch {
	case cfg.Store.Postgres != nil || cfg.Store.SQLite != nil:
		s, err := store.New(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		back = s
		closeFn = s.Close
	default:
		slog.Warn("no store configured, falling back to in-memory store (data will not survive a restart)")
		back = memory.New()
		closeFn = func() {}
	}
	defer closeFn()

	bucket, err := newBucket(ctx, cfg.Engine.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to create object store bucket: %w", err)
	}
	objStore := objectstore.New(bucket)

	execs := execstore.New(back, objStore)
	creditSvc := credit.New(back)

	reg, err := registry.New(nodes.All()...)
	if err != nil {
		return fmt.Errorf("failed to build node registry: %w", err)
	}

	sink := newMonitorSink(cfg.Engine.Monitor)

	rt := runtime.New(reg, objStore, creditSvc, execs, sink, nil)

	cl, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}

	dispatcher := runtime.NewTriggerDispatcher(rt, scheduleLookup(back, cfg.Engine.DefaultOrganizationID), workflowLookup(objStore), cl)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trigger dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	srv := newHTTPServer(cfg.Server, rt, objStore, execs, back, cfg.Engine.DefaultOrganizationID)

	slog.Info("engine listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.StartWithContext(ctx, net.JoinHostPort(cfg.Server.Host, cfg.Server.Port))
}

// newBucket selects the Object Store backend named in cfg.Engine.ObjectStore.
func newBucket(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Bucket, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.S3 == nil {
			return nil, errors.New("object_store backend is s3 but no s3 config given")
		}
		return s3bucket.New(ctx, s3bucket.Config{
			Endpoint:     cfg.S3.Endpoint,
			Region:       cfg.S3.Region,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Bucket:       cfg.S3.Bucket,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	case "fs", "":
		root := cfg.FS.Root
		if root == "" {
			root = "./data/objects"
		}
		return fsbucket.New(root)
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.Backend)
	}
}

// newMonitorSink selects the Monitoring Sink named in cfg.Engine.Monitor.
// A nil cfg or unknown backend disables live progress entirely.
func newMonitorSink(cfg *config.MonitorConfig) monitor.Sink {
	if cfg == nil || cfg.Backend == "" || cfg.Backend == "none" {
		return monitor.Noop{}
	}
	if cfg.Backend != "redis" || cfg.RedisAddr == "" {
		slog.Warn("monitor backend not usable, disabling live progress", "backend", cfg.Backend)
		return monitor.Noop{}
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return monitor.NewRedis(client)
}

// scheduleLookup adapts ListEnabledCronTriggers to runtime.ScheduleLookup,
// reading the "schedule"/"timezone" keys the existing cron scheduler uses
// (internal/service/workflow/scheduler.go) and defaulting OrganizationID
// since triggers carry no tenant column of their own.
func scheduleLookup(back backing, defaultOrganizationID string) runtime.ScheduleLookup {
	return func(ctx context.Context) ([]runtime.ScheduledTrigger, error) {
		triggers, err := back.ListEnabledCronTriggers(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]runtime.ScheduledTrigger, 0, len(triggers))
		for _, t := range triggers {
			if t.Type != "cron" {
				continue
			}
			schedule, _ := t.Config["schedule"].(string)
			if schedule == "" {
				continue
			}
			if tz, _ := t.Config["timezone"].(string); tz != "" {
				schedule = "CRON_TZ=" + tz + " " + schedule
			}
			out = append(out, runtime.ScheduledTrigger{
				ID:             t.ID,
				WorkflowID:     t.WorkflowID,
				OrganizationID: defaultOrganizationID,
				CronSpec:       schedule,
			})
		}
		return out, nil
	}
}

// workflowLookup adapts the Object Store's ReadWorkflow to
// runtime.WorkflowLookup. Engine-native workflows (model.Workflow) are
// persisted here rather than in the relational workflows table, which
// holds the chat-agent's visual-editor graphs (service.Workflow) — a
// different shape for a different feature (see DESIGN.md).
func workflowLookup(objStore *objectstore.ObjectStore) runtime.WorkflowLookup {
	return func(ctx context.Context, id string) (model.Workflow, error) {
		wf, err := objStore.ReadWorkflow(ctx, id)
		if err != nil {
			return model.Workflow{}, err
		}
		return *wf, nil
	}
}

func newHTTPServer(cfg config.Server, rt *runtime.Runtime, objStore *objectstore.ObjectStore, execs *execstore.Store, back backing, defaultOrganizationID string) *ada.Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	h := &handler{rt: rt, objStore: objStore, execs: execs, back: back, defaultOrganizationID: defaultOrganizationID}

	base := mux.Group(cfg.BasePath)
	api := base.Group("/api")
	api.POST("/v1/workflows/run/*", h.runWorkflow)
	api.GET("/v1/executions/*", h.getExecution)
	api.POST("/v1/webhooks/*", h.webhook)

	return mux
}

type handler struct {
	rt                    *runtime.Runtime
	objStore              *objectstore.ObjectStore
	execs                 *execstore.Store
	back                  backing
	defaultOrganizationID string
}

func (h *handler) organizationID(r *http.Request) string {
	if id := r.Header.Get("X-Organization-Id"); id != "" {
		return id
	}
	return h.defaultOrganizationID
}

// runWorkflow handles POST /api/v1/workflows/run/{id}: loads the
// engine-native workflow from the Object Store and runs it synchronously.
func (h *handler) runWorkflow(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.PathValue("id"), "/")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	wf, err := h.objStore.ReadWorkflow(r.Context(), id)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			httpResponse(w, fmt.Sprintf("workflow %q not found", id), http.StatusNotFound)
			return
		}
		httpResponseError(w, "get workflow", err)
		return
	}

	exec, err := h.rt.Run(r.Context(), runtime.Params{
		Workflow:       *wf,
		OrganizationID: h.organizationID(r),
	}, "run_"+newExecutionID())
	if err != nil {
		httpResponseError(w, "run workflow", err)
		return
	}

	httpResponseJSON(w, exec, http.StatusOK)
}

// getExecution handles GET /api/v1/executions/{id}.
func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.PathValue("id"), "/")
	if id == "" {
		httpResponse(w, "execution id is required", http.StatusBadRequest)
		return
	}

	exec, err := h.execs.Get(r.Context(), id, h.organizationID(r))
	if err != nil {
		httpResponseError(w, "get execution", err)
		return
	}
	if exec == nil {
		httpResponse(w, fmt.Sprintf("execution %q not found", id), http.StatusNotFound)
		return
	}

	httpResponseJSON(w, exec, http.StatusOK)
}

// webhook handles POST /api/v1/webhooks/{idOrAlias}: the HTTP-triggered
// run path, mirrored from the chat-agent server's WebhookAPI
// (internal/server/triggers.go) but driving the runtime Runtime instead
// of the workflow.Engine in internal/service/workflow.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	idOrAlias := strings.TrimPrefix(r.PathValue("id"), "/")
	if idOrAlias == "" {
		httpResponse(w, "trigger id or alias is required", http.StatusBadRequest)
		return
	}

	trigger, err := h.back.GetTrigger(r.Context(), idOrAlias)
	if err != nil {
		httpResponseError(w, "get trigger", err)
		return
	}
	if trigger == nil {
		trigger, err = h.back.GetTriggerByAlias(r.Context(), idOrAlias)
		if err != nil {
			httpResponseError(w, "get trigger by alias", err)
			return
		}
	}
	if trigger == nil {
		httpResponse(w, "webhook not found", http.StatusNotFound)
		return
	}
	if trigger.Type != "http" {
		httpResponse(w, "trigger is not an HTTP trigger", http.StatusBadRequest)
		return
	}
	if !trigger.Enabled {
		httpResponse(w, "trigger is disabled", http.StatusForbidden)
		return
	}

	if !trigger.Public {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if bearer == "" || bearer == r.Header.Get("Authorization") {
			httpResponse(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		token, err := h.back.GetAPITokenByHash(r.Context(), hashToken(bearer))
		if err != nil {
			httpResponseError(w, "authenticate webhook", err)
			return
		}
		if token == nil {
			httpResponse(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if len(token.AllowedWebhooks) > 0 && !allowedWebhook(token.AllowedWebhooks, trigger) {
			httpResponse(w, "token is not scoped to this webhook", http.StatusForbidden)
			return
		}
	}

	wf, err := h.objStore.ReadWorkflow(r.Context(), trigger.WorkflowID)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			httpResponse(w, fmt.Sprintf("workflow %q not found", trigger.WorkflowID), http.StatusNotFound)
			return
		}
		httpResponseError(w, "get workflow", err)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	exec, err := h.rt.Run(r.Context(), runtime.Params{
		Workflow:       *wf,
		OrganizationID: h.organizationID(r),
		HTTPRequest:    body,
	}, "run_"+newExecutionID())
	if err != nil {
		httpResponseError(w, "run workflow", err)
		return
	}

	httpResponseJSON(w, exec, http.StatusAccepted)
}

func allowedWebhook(allowed []string, trigger *service.Trigger) bool {
	for _, a := range allowed {
		if a == trigger.ID || (trigger.Alias != "" && a == trigger.Alias) {
			return true
		}
	}
	return false
}

func httpResponse(w http.ResponseWriter, msg string, code int) {
	httpResponseJSON(w, map[string]string{"message": msg}, code)
}

func httpResponseError(w http.ResponseWriter, action string, err error) {
	slog.Error("engine: "+action+" failed", "error", err)
	httpResponse(w, fmt.Sprintf("%s: %v", action, err), http.StatusInternalServerError)
}

func httpResponseJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newExecutionID() string {
	return ulid.Make().String()
}
