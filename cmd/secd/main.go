package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kthcloud/secd/internal/cluster"
	"github.com/kthcloud/secd/internal/config"
	"github.com/kthcloud/secd/internal/credentials"
	"github.com/kthcloud/secd/internal/forge"
	"github.com/kthcloud/secd/internal/idp"
	"github.com/kthcloud/secd/internal/imagebuilder"
	"github.com/kthcloud/secd/internal/logging"
	"github.com/kthcloud/secd/internal/metrics"
	"github.com/kthcloud/secd/internal/reaper"
	"github.com/kthcloud/secd/internal/webhook"
)

const addr = ":8080"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger exists yet; config failure is a startup fatal.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forgeClient := forge.New(forge.Settings{
		URL:      cfg.GitLab.URL,
		Token:    cfg.GitLab.Token,
		Username: cfg.GitLab.Username,
		Password: cfg.GitLab.Password,
	})

	idpClient := idp.New(ctx, idp.Settings{
		URL:      cfg.Keycloak.URL,
		Username: cfg.Keycloak.Username,
		Password: cfg.Keycloak.Password,
		Realm:    cfg.Keycloak.Realm,
	})

	credsBroker, err := credentials.New(ctx, credentials.Settings{
		Host:     cfg.DB.Host,
		Username: cfg.DB.Username,
		Password: cfg.DB.Password,
		Database: "postgres",
	})
	if err != nil {
		log.Errorf("credentials: %v", err)
		os.Exit(1)
	}
	defer credsBroker.Close()

	builder, err := imagebuilder.New(imagebuilder.RegistrySettings{
		URL:      cfg.Registry.URL,
		Username: cfg.Registry.Username,
		Password: cfg.Registry.Password,
		Project:  cfg.Registry.Project,
	})
	if err != nil {
		log.Errorf("imagebuilder: %v", err)
		os.Exit(1)
	}
	defer builder.Close()

	clusterDriver, err := cluster.New(cluster.Settings{
		KubeconfigPath: cfg.K8s.ConfigPath,
		NFSServer:      "nfs.secd",
	})
	if err != nil {
		log.Errorf("cluster: %v", err)
		os.Exit(1)
	}

	handler := webhook.New(webhook.Deps{
		Config:  cfg,
		Forge:   forgeClient,
		IDP:     idpClient,
		Creds:   credsBroker,
		Builder: builder,
		Cluster: clusterDriver,
		Log:     log,
	})

	reaperDaemon := reaper.New(clusterDriver, forgeClient, cfg, log)
	go reaperDaemon.Run(ctx)

	router := chi.NewRouter()
	router.Mount("/", handler.Router())
	router.Get("/metrics", metrics.Handler().ServeHTTP)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	log.Infof("shutting down")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
}
