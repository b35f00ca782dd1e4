// Package webhook implements the HTTP admission endpoint and the
// asynchronous launch pipeline it triggers.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/kthcloud/secd/internal/cluster"
	"github.com/kthcloud/secd/internal/config"
	"github.com/kthcloud/secd/internal/credentials"
	"github.com/kthcloud/secd/internal/forge"
	"github.com/kthcloud/secd/internal/idp"
	"github.com/kthcloud/secd/internal/imagebuilder"
	"github.com/kthcloud/secd/internal/logging"
	"github.com/kthcloud/secd/internal/metadata"
	"github.com/kthcloud/secd/internal/metrics"
	"github.com/kthcloud/secd/internal/run"
	"github.com/kthcloud/secd/internal/secderrors"
)

// Handler wires every domain client into the admission and launch
// pipeline and exposes it as an http.Handler.
type Handler struct {
	cfg     config.Config
	forge   *forge.Client
	idp     *idp.Client
	creds   *credentials.Broker
	builder *imagebuilder.Builder
	cluster *cluster.Driver
	log     *logging.Logger
	sem     *semaphore.Weighted
	val     *validator.Validate
}

// Deps bundles the domain clients a Handler orchestrates.
type Deps struct {
	Config  config.Config
	Forge   *forge.Client
	IDP     *idp.Client
	Creds   *credentials.Broker
	Builder *imagebuilder.Builder
	Cluster *cluster.Driver
	Log     *logging.Logger
}

// New builds a Handler. Launch work is bounded by
// cfg.Launch.MaxConcurrentLaunches concurrent goroutines; pushes beyond
// that cap queue for a free slot rather than spawning unbounded
// workers.
func New(d Deps) *Handler {
	return &Handler{
		cfg:     d.Config,
		forge:   d.Forge,
		idp:     d.IDP,
		creds:   d.Creds,
		builder: d.Builder,
		cluster: d.Cluster,
		log:     d.Log.With("webhook"),
		sem:     semaphore.NewWeighted(int64(d.Config.Launch.MaxConcurrentLaunches)),
		val:     validator.New(),
	}
}

// Router returns the HTTP handler tree: the admission endpoint and a
// liveness probe.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/hook", h.handleHook)
	return r
}

func (h *Handler) handleHook(w http.ResponseWriter, r *http.Request) {
	payload, err := h.admit(r)
	if err != nil {
		var se *secderrors.Error
		if errors.As(err, &se) && se.Msg == "invalid token" {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), secderrors.HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	go h.launch(context.Background(), *payload)
}

// admit runs the synchronous validation steps against an incoming
// webhook request: header checks, body schema, event/ref filtering,
// per-commit signature checks, and Dockerfile presence.
func (h *Handler) admit(r *http.Request) (*pushEvent, error) {
	event := r.Header.Get("X-Gitlab-Event")
	if event != eventPushHook && event != eventSystemHook {
		return nil, secderrors.New(secderrors.KindInputRejected, "unsupported event type")
	}
	if r.Header.Get("X-Gitlab-Token") != h.cfg.GitLab.Secret {
		return nil, secderrors.New(secderrors.KindInputRejected, "invalid token")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil || len(body) == 0 {
		return nil, secderrors.New(secderrors.KindInputRejected, "empty body")
	}
	var payload pushEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, secderrors.Wrap(secderrors.KindInputRejected, "malformed json", err)
	}
	if err := h.val.Struct(payload); err != nil {
		return nil, secderrors.Wrap(secderrors.KindInputRejected, "invalid payload shape", err)
	}
	if payload.EventName != eventNamePush {
		return nil, secderrors.New(secderrors.KindInputRejected, "unsupported event_name")
	}
	if payload.Ref != mainRef {
		return nil, secderrors.New(secderrors.KindInputRejected, "ignoring non-main ref")
	}

	ctx := r.Context()
	projectID := forge.ProjectIDString(payload.ProjectID)
	for _, c := range payload.Commits {
		sig, err := h.forge.GetSignature(ctx, projectID, c.ID)
		if err != nil {
			return nil, secderrors.Wrap(secderrors.KindVerificationFailed, "commit signature lookup failed", err)
		}
		if sig.VerificationStatus != verifiedStatus {
			h.log.Warnf("commit %s is unverified (status=%s), continuing", c.ID, sig.VerificationStatus)
		}
	}

	hasDockerfile, err := h.forge.HasFileInRepo(ctx, projectID, dockerfilePath, payload.Ref)
	if err != nil || !hasDockerfile {
		return nil, secderrors.New(secderrors.KindInputRejected, "Dockerfile not found at ref")
	}

	return &payload, nil
}

// launch runs the full provisioning sequence for an admitted push. It
// runs detached from the request and swallows every error into the
// log: the reaper eventually collects any namespace that did reach
// creation.
func (h *Handler) launch(ctx context.Context, payload pushEvent) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		h.log.Errorf("launch: acquiring worker slot: %v", err)
		return
	}
	defer h.sem.Release(1)

	log := h.log
	metrics.LaunchStarted()

	externalSubject, found, err := h.forge.GetIDPUserID(ctx, payload.UserID)
	if err != nil || !found {
		log.Errorf("launch: resolving identity for user %d: %v", payload.UserID, err)
		metrics.LaunchFailed(secderrors.KindResolveFailed.String())
		return
	}

	groups, err := h.idp.GetUserGroups(ctx, externalSubject)
	if err != nil {
		log.Errorf("launch: fetching groups for %s: %v", externalSubject, err)
		metrics.LaunchFailed(secderrors.KindResolveFailed.String())
		return
	}
	roles := idp.DBRoles(groups)

	dbUser, dbPass, err := h.creds.CreatePrincipal(ctx, roles)
	if err != nil {
		log.Errorf("launch: provisioning db principal: %v", err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	id := run.NewID()
	createdAt := time.Now()

	workdir := run.RepoWorkdir(h.cfg.ResolvedRepoPath(), id)
	if err := h.forge.Clone(ctx, payload.Project.HTTPURL, workdir); err != nil {
		log.Errorf("launch: cloning run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	meta, err := metadata.Parse(workdir + "/secd.yml")
	if err != nil {
		log.Errorf("launch: parsing metadata for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}
	deadline := createdAt.Add(time.Duration(meta.RunFor * float64(time.Hour)))

	imageRef := run.ImageRef(h.cfg.Registry.URL, h.cfg.Registry.Project, id)
	if err := h.builder.Build(ctx, workdir, imageRef); err != nil {
		log.Errorf("launch: building image for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}
	if err := h.builder.PushAndCleanup(ctx, imageRef); err != nil {
		log.Errorf("launch: pushing image for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	r := run.Run{
		ID:          id,
		UserID:      externalSubject,
		Deadline:    deadline,
		SourceURL:   payload.Project.HTTPURL,
		GPU:         meta.GPU,
		DBPrincipal: run.DBPrincipal{User: dbUser, Password: dbPass},
		CreatedAt:   createdAt,
	}
	if meta.HasCache() {
		r.Cache = &run.CacheSpec{HostDir: meta.CacheDir, MountPath: meta.MountPath}
	}

	if err := h.cluster.CreateNamespace(ctx, r); err != nil {
		log.Errorf("launch: creating namespace for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	outputSubdir := run.OutputSubdir(workdir, id, createdAt)
	if err := os.MkdirAll(outputSubdir, 0o755); err != nil {
		log.Errorf("launch: creating output directory for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}
	outputsRel, err := filepath.Rel(workdir, outputSubdir)
	if err != nil {
		log.Errorf("launch: resolving output subdir for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}
	outputsNFSPath := fmt.Sprintf("%s/repos/%s/%s", h.cfg.K8s.PVCPath, id, outputsRel)
	if err := h.cluster.CreateOutputVolume(ctx, r, outputsNFSPath); err != nil {
		log.Errorf("launch: creating output volume for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	if r.Cache != nil {
		cacheNFSPath := fmt.Sprintf("%s/%s/%s", h.cfg.ResolvedCachePath(), externalSubject, r.Cache.HostDir)
		if err := os.MkdirAll(cacheNFSPath, 0o755); err != nil {
			log.Errorf("launch: creating cache directory for run %s: %v", id, err)
			metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
			return
		}
		if err := h.cluster.CreateCacheVolume(ctx, r, cacheNFSPath); err != nil {
			log.Errorf("launch: creating cache volume for run %s: %v", id, err)
			metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
			return
		}
	}

	env := map[string]string{
		"DB_USER":     dbUser,
		"DB_PASS":     dbPass,
		"DB_HOST":     h.cfg.DB.Host,
		"OUTPUT_PATH": "/output",
		"SECD":        "PRODUCTION",
	}
	if err := h.cluster.CreatePod(ctx, r, imageRef, env); err != nil {
		log.Errorf("launch: creating pod for run %s: %v", id, err)
		metrics.LaunchFailed(secderrors.KindProvisionFailed.String())
		return
	}

	metrics.LaunchSucceeded()
	log.Infof("launch: run %s provisioned for user %s, deadline %s", id, externalSubject, deadline.Format(time.RFC3339))
}
