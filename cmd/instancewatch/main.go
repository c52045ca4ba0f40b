// Command instancewatch runs the instance presence engine: it tails the
// game log, accepts relay protocol events over a local websocket and
// serves the reconciled lobby state, feed history and overlay stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/graaaaa/instancewatch/internal/api"
	"github.com/graaaaa/instancewatch/internal/appinfo"
	"github.com/graaaaa/instancewatch/internal/config"
	"github.com/graaaaa/instancewatch/internal/engine"
	"github.com/graaaaa/instancewatch/internal/feed"
	"github.com/graaaaa/instancewatch/internal/gamelog"
	"github.com/graaaaa/instancewatch/internal/identity"
	"github.com/graaaaa/instancewatch/internal/moderation"
	"github.com/graaaaa/instancewatch/internal/notify"
	"github.com/graaaaa/instancewatch/internal/photon"
	"github.com/graaaaa/instancewatch/internal/session"
	"github.com/graaaaa/instancewatch/internal/singleinstance"
	"github.com/graaaaa/instancewatch/internal/store"
	"github.com/graaaaa/instancewatch/internal/version"
	"github.com/graaaaa/instancewatch/internal/vrcapi"
	"github.com/graaaaa/instancewatch/internal/watcher"
)

// feedRetention is how far back history is kept; older rows are
// vacuumed at startup.
const feedRetention = 90 * 24 * time.Hour

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	release, ok, err := singleinstance.AcquireLock()
	if err != nil {
		return err
	}
	if !ok {
		logger.Error("another instance is already running")
		os.Exit(1)
	}
	defer release()

	cfg, _ := config.LoadConfig()
	cfg = config.ApplyEnvOverrides(cfg)

	secrets, secretsStatus, err := config.LoadSecrets()
	if err != nil {
		logger.Warn("secrets load degraded", "error", err)
	}

	updated, generatedPw, err := config.EnsureLanAuth(&secrets, cfg.LanEnabled)
	if err != nil {
		return err
	}
	if updated && secretsStatus != config.SecretsFallback {
		if err := config.SaveSecrets(secrets); err != nil {
			return err
		}
		if generatedPw != "" {
			pwPath, err := config.WritePasswordFile(secrets.BasicAuthUsername, generatedPw)
			if err != nil {
				logger.Warn("password file write failed", "error", err)
			} else {
				logger.Info("basic auth credentials generated", "path", pwPath)
			}
		}
	} else if updated {
		logger.Warn("secrets file has errors; generated credentials not saved")
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	fromStart := flag.Bool("from-start", false, "read the current log file from the beginning")
	flag.Parse()

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return err
	}
	db, err := store.Open(filepath.Join(dataDir, appinfo.DatabaseFileName))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if deleted, err := db.Vacuum(ctx, time.Now().Add(-feedRetention)); err != nil {
		logger.Warn("startup vacuum failed", "error", err)
	} else if deleted > 0 {
		logger.Info("vacuumed old feed entries", "deleted", deleted)
	}

	apiClient := vrcapi.New(
		vrcapi.WithAuthCookie(secrets.WebAPICookie),
		vrcapi.WithUserAgent(appinfo.DirName+"/"+version.String()),
	)

	sess := session.NewContext()
	eng := engine.New(sess, engine.WithLogger(logger))

	resolver := identity.NewResolver(
		identity.WithClient(apiClient),
		identity.WithFreshWindow(time.Duration(cfg.ProfileFreshSec)*time.Second),
		identity.WithLogger(logger),
	)

	hub := api.NewHub(logger,
		api.WithOverlayTTL(time.Duration(cfg.OverlayTimeoutMs)*time.Millisecond))
	go hub.Run(ctx)

	var notifier *notify.Notifier
	if !secrets.DiscordWebhookURL.IsEmpty() {
		sender := notify.NewDiscordSender(secrets.DiscordWebhookURL)
		notifier = notify.NewNotifier(sender, cfg.DiscordBatchSec, notify.NewFilter(cfg.NotifyFilters),
			notify.WithNotifierLogger(logger))
		go notifier.Run(ctx)
		logger.Info("discord notifications enabled")
	} else {
		logger.Info("discord webhook not configured, notifications disabled")
	}

	sinks := []feed.Sink{
		feed.SinkFunc(func(ctx context.Context, e *feed.Entry) error {
			_, err := db.InsertFeed(ctx, e)
			return err
		}),
		hub.OverlaySink(),
	}
	if notifier != nil {
		sinks = append(sinks, notifier.Sink())
	}
	emitter := feed.NewEmitter(
		feed.NewDeduper(time.Duration(cfg.FeedDedupSec)*time.Second),
		sinks,
		feed.WithEmitterLogger(logger),
	)

	reconciler := moderation.NewReconciler(db, emitter, moderation.WithLogger(logger))

	timeouts := watcher.New(sess, eng, hub.PushTimeouts,
		watcher.WithTimeout(time.Duration(cfg.TimeoutMs)*time.Millisecond),
		watcher.WithJoinGrace(time.Duration(cfg.JoinGraceSec)*time.Second),
		watcher.WithLogger(logger),
	)

	dispatcher := photon.NewDispatcher(sess, resolver, emitter, eng,
		photon.WithModerator(reconciler),
		photon.WithChatStore(db),
		photon.WithWorldResolver(apiClient),
		photon.WithWatcherNudge(timeouts.EnsureRunning),
		photon.WithLocalUserID(cfg.LocalUserID),
		photon.WithChatBlacklist(cfg.ChatBlacklistWords, cfg.ChatBlacklistUsers),
		photon.WithDispatcherLogger(logger),
	)

	projector := gamelog.NewProjector(gamelog.WithProjectorPush(hub.PushNowPlaying))
	pipeline := gamelog.NewPipeline(sess, resolver, emitter,
		gamelog.WithLocalName(cfg.LocalDisplayName),
		gamelog.WithVideoProjector(projector),
		gamelog.WithResetHook(reconciler.Reset),
		gamelog.WithResetHook(timeouts.Stop),
		gamelog.WithPipelineLogger(logger),
	)

	eng.Bind(dispatcher, pipeline)
	go eng.Run(ctx)

	sourceOpts := []gamelog.SourceOption{
		gamelog.WithFromStart(*fromStart),
		gamelog.WithSourceLogger(logger),
	}
	if cfg.LogPath != "" {
		sourceOpts = append(sourceOpts, gamelog.WithLogDir(cfg.LogPath))
	}
	source := gamelog.NewSource(sourceOpts...)
	records, tailErrs, err := source.Start(ctx)
	if err != nil {
		return err
	}
	go func() {
		for rec := range records {
			eng.SubmitRecord(ctx, rec)
		}
	}()
	go func() {
		for err := range tailErrs {
			logger.Warn("log tail error", "error", err)
		}
	}()

	host := "127.0.0.1"
	if cfg.LanEnabled {
		host = "0.0.0.0"
	}
	serverOpts := []api.ServerOption{
		api.WithListenHost(host),
		api.WithStore(db),
		api.WithServerLogger(logger),
	}
	if cfg.LanEnabled {
		serverOpts = append(serverOpts, api.WithBasicAuth(secrets.BasicAuthUsername, secrets.BasicAuthPassword.Value()))
		logger.Info("basic auth enabled for LAN mode")
	}
	server := api.NewServer(eng, hub, *port, serverOpts...)

	logger.Info("starting", "version", version.String(), "host", host, "port", *port)
	serveErr := server.Start(ctx)

	if notifier != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := notifier.Stop(stopCtx); err != nil {
			logger.Warn("notifier stop", "error", err)
		}
		cancel()
	}

	return serveErr
}
