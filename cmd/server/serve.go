package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/cloudcode-gateway/gateway/internal/account"
	"github.com/cloudcode-gateway/gateway/internal/apiserver"
	"github.com/cloudcode-gateway/gateway/internal/auth/antigravity"
	"github.com/cloudcode-gateway/gateway/internal/config"
	"github.com/cloudcode-gateway/gateway/internal/dispatch"
	"github.com/cloudcode-gateway/gateway/internal/logging"
	"github.com/cloudcode-gateway/gateway/internal/ratelimit"
	"github.com/cloudcode-gateway/gateway/internal/scheduler"
	"github.com/cloudcode-gateway/gateway/internal/tokenrefresh"
	"github.com/cloudcode-gateway/gateway/internal/toolargs"
	"github.com/cloudcode-gateway/gateway/internal/upstream"
)

// antigravityOAuthConfig mirrors the installed-app OAuth client the
// Antigravity IDE itself uses, so refresh tokens minted by the IDE's own
// login flow (or imported via --import-antigravity) remain valid here.
var antigravityOAuthConfig = &oauth2.Config{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	Endpoint: oauth2.Endpoint{
		TokenURL: "https://oauth2.googleapis.com/token",
	},
}

const (
	upstreamBaseURLProd  = "https://cloudcode-pa.googleapis.com"
	upstreamBaseURLDaily = "https://daily-cloudcode-pa.googleapis.com"
	upstreamGeneratePath = "/v1internal:generateContent"
	upstreamStreamPath   = "/v1internal:streamGenerateContent"
)

var (
	serveConfigPath        string
	serveListenPortOverride int
	serveDBPath            string
	serveLogPath           string
	serveImportAntigravity bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's HTTP server",
		RunE:  runServe,
	}
	defaultDB := filepath.Join(defaultStateDir(), "accounts.db")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", filepath.Join(defaultStateDir(), "config.yaml"), "Path to config.yaml")
	serveCmd.Flags().IntVar(&serveListenPortOverride, "port", 0, "Override listen-port from config")
	serveCmd.Flags().StringVar(&serveDBPath, "db", defaultDB, "Path to the SQLite account store")
	serveCmd.Flags().StringVar(&serveLogPath, "log-file", "", "Optional rotated log file path (stderr only when empty)")
	serveCmd.Flags().BoolVar(&serveImportAntigravity, "import-antigravity", true, "On first run, seed the account store from the local Antigravity IDE login if the store is empty")
	rootCmd.AddCommand(serveCmd)
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cloudcode-gateway")
	}
	return "."
}

func runServe(cmd *cobra.Command, _ []string) error {
	logging.Configure(logging.DefaultFileConfig(serveLogPath))

	if err := os.MkdirAll(filepath.Dir(serveConfigPath), 0o755); err != nil {
		return fmt.Errorf("prepare config dir: %w", err)
	}
	if _, err := os.Stat(serveConfigPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(serveConfigPath); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		log.WithField("path", serveConfigPath).Info("gateway: wrote default config")
	}

	watcher, err := config.NewWatcher(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()

	// Applied once, before the watcher's fsnotify goroutine can have fired;
	// a later on-disk edit still wins since reload replaces this pointer
	// wholesale rather than mutating it.
	if serveListenPortOverride != 0 {
		watcher.Current().ListenPort = serveListenPortOverride
	}

	if err := os.MkdirAll(filepath.Dir(serveDBPath), 0o755); err != nil {
		return fmt.Errorf("prepare account store dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := account.OpenSQLiteStore(ctx, serveDBPath)
	cancel()
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer store.Close()

	if serveImportAntigravity {
		if err := seedFromAntigravityIDE(context.Background(), store); err != nil {
			log.WithError(err).Warn("gateway: antigravity IDE auto-import skipped")
		}
	}

	refresher := tokenrefresh.New(store, antigravityOAuthConfig)

	upstreamCfg := upstream.DefaultConfig()
	upstreamCfg.ProxyURL = watcher.Current().ProxyURL
	upstreamCfg.RequestTimeout = watcher.Current().RequestTimeout
	httpClient, err := upstream.NewClient(upstreamCfg)
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}
	streamingClient, err := upstream.StreamingClient(upstreamCfg)
	if err != nil {
		return fmt.Errorf("build streaming upstream client: %w", err)
	}

	quotaClient := tokenrefresh.NewQuotaClient(refresher, httpClient, upstreamBaseURLProd)
	tracker := ratelimit.NewTracker(quotaClient)
	sched := scheduler.New(store, tracker)

	endpoints := dispatch.Endpoints{
		Prod:        upstreamBaseURLProd + upstreamGeneratePath,
		Daily:       upstreamBaseURLDaily + upstreamGeneratePath,
		StreamProd:  upstreamBaseURLProd + upstreamStreamPath,
		StreamDaily: upstreamBaseURLDaily + upstreamStreamPath,
	}
	disp := dispatch.New(store, sched, tracker, refresher, httpClient, endpoints)
	streamingDisp := dispatch.New(store, sched, tracker, refresher, streamingClient, endpoints)

	deps := apiserver.Dependencies{
		Config:     watcher.Current,
		Dispatcher: dualClientDispatcher{nonStreaming: disp, streaming: streamingDisp},
		Rewriter:   toolargs.New(),
	}

	if watcher.Current().AuthMode == "" {
		log.Warn("gateway: no auth-mode configured, defaulting to AUTO")
	}
	if watcher.Current().ClientAPIKey == "" {
		log.Warn("gateway: no client-api-key set; AUTO mode will only accept loopback callers")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := apiserver.New(deps)

	srv := &http.Server{
		Addr:    watcher.Current().BindAddress(),
		Handler: engine,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("gateway: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("gateway: shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// dualClientDispatcher routes non-streaming attempts through a client with a
// bounded timeout and streaming attempts through a client with none, while
// sharing the same account store, scheduler and token refresher.
type dualClientDispatcher struct {
	nonStreaming *dispatch.Dispatcher
	streaming    *dispatch.Dispatcher
}

func (d dualClientDispatcher) Do(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	return d.nonStreaming.Do(ctx, req)
}

func (d dualClientDispatcher) DoStreaming(ctx context.Context, req dispatch.Request) (*dispatch.StreamResult, error) {
	return d.streaming.DoStreaming(ctx, req)
}

// seedFromAntigravityIDE registers the locally logged-in Antigravity IDE
// account as a runtime account on first run, so a fresh install is usable
// without a separate import step. It is a no-op once the store already
// holds at least one account.
func seedFromAntigravityIDE(ctx context.Context, store *account.SQLiteStore) error {
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	tok, err := antigravity.LoadAntigravityToken()
	if err != nil {
		return err
	}

	a := &account.Account{
		ID:           uuid.NewString(),
		Email:        tok.Email,
		Status:       account.StatusActive,
		AccessToken:  tok.GetAccessToken(),
		RefreshToken: tok.GetRefreshToken(),
		Expiry:       tok.GetExpiry(),
		ProjectID:    tok.ProjectID,
	}
	if a.Email == "" {
		a.Email = "antigravity-ide-import"
	}
	if err := store.Insert(ctx, a); err != nil {
		return err
	}
	log.WithField("account_id", a.ID).Info("gateway: imported Antigravity IDE account")
	return nil
}

func writeDefaultConfig(path string) error {
	cfg := config.Default()
	raw := fmt.Sprintf(`listen-port: %d
allow-lan-access: false
auth-mode: %s
request-timeout: %s
scheduling-mode: %s
session-ttl: %s
exact-map: {}
`, cfg.ListenPort, cfg.AuthMode, cfg.RequestTimeout, cfg.SchedulingMode, cfg.SessionTTL)
	return os.WriteFile(path, []byte(raw), 0o600)
}
