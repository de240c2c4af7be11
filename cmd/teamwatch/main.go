// teamwatch - session and telemetry tracking for team game servers
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/teamwatch/internal/api"
	"github.com/ernie/teamwatch/internal/auth"
	"github.com/ernie/teamwatch/internal/colors"
	"github.com/ernie/teamwatch/internal/config"
	"github.com/ernie/teamwatch/internal/domain"
	"github.com/ernie/teamwatch/internal/feed"
	"github.com/ernie/teamwatch/internal/observability"
	"github.com/ernie/teamwatch/internal/storage"
	"github.com/ernie/teamwatch/internal/tracker"
)

var version = "dev"

const defaultConfigPath = "/etc/teamwatch/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "secret":
		cmdSecret(os.Args[2:])
	case "sessions":
		cmdSessions(os.Args[2:])
	case "commands":
		cmdCommands(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "reset":
		cmdReset(os.Args[2:])
	case "maintenance":
		cmdMaintenance(os.Args[2:])
	case "info":
		cmdInfo(os.Args[2:])
	case "publish":
		cmdPublish(os.Args[2:])
	case "version":
		fmt.Printf("teamwatch %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: teamwatch <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the tracker and HTTP API")
	fmt.Println("  secret status <tenant>              Show whether a tenant is PIN protected")
	fmt.Println("  secret set <tenant>                 Set or replace a tenant PIN (prompts)")
	fmt.Println("  secret remove <tenant>              Remove a tenant PIN")
	fmt.Println("  sessions <tenant> [--player ID] [--limit N]")
	fmt.Println("                                      Show recent sessions")
	fmt.Println("  commands <tenant> [--limit N]       Show recently issued commands")
	fmt.Println("  stats <tenant> [--days N]           Show server stats and per-player totals")
	fmt.Println("  reset <tenant> [--yes]              Delete all sessions and telemetry of a tenant")
	fmt.Println("  maintenance                         Run one retention pass against the database")
	fmt.Println("  info                                Show database size and maintenance log")
	fmt.Println("  publish <tenant> [--file F] [--offline]")
	fmt.Println("                                      Publish a snapshot (JSON) or offline marker to the feed")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/teamwatch/config.yml)")
	fmt.Println("  --url <url>        Base URL of the teamwatch server (default: derived from config)")
	fmt.Println("  --token <token>    Tenant token for PIN protected tenants")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  teamwatch serve --config /etc/teamwatch/config.yml")
	fmt.Println("  teamwatch secret set alpha")
	fmt.Println("  teamwatch sessions alpha --limit 50")
	fmt.Println("  teamwatch publish alpha --file snapshot.json")
}

// cmdServe starts the tracker, the feed subscriber and the HTTP API
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "No config file found at %s. Use --config to specify a config file.\n", defaultConfigPath)
			os.Exit(1)
		}
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.Init(cfg.Log.Level, cfg.Log.Colored())
	logger.Info("teamwatch starting", "version", version)

	if err := serve(cfg, logger); err != nil {
		logger.Error("teamwatch failed", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mp, err := observability.InitMetrics(ctx, cfg.Metrics, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	// Runs last so counters from the final session closes are exported
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	logger.Info("database initialized", "path", cfg.Database.Path)

	rdb, err := colors.NewRedisClient(ctx, cfg.Cache)
	if err != nil {
		// The cache is optional; colors still resolve from the database
		logger.Warn("redis unavailable, color cache disabled", "addr", cfg.Cache.RedisAddr, "error", err)
	}
	var cache redis.UniversalClient
	if rdb != nil {
		defer rdb.Close()
		cache = rdb
	}
	svc := tracker.NewService(store, colors.NewResolver(store, cache, cfg.Cache, logger), logger)

	natsURL := cfg.Feed.URL
	var ns *server.Server
	if cfg.Feed.Embedded {
		ns, err = feed.StartEmbedded(cfg.Feed)
		if err != nil {
			return err
		}
		natsURL = ns.ClientURL()
		logger.Info("embedded nats server started", "url", natsURL)
	}
	nc, err := feed.Connect(natsURL, logger)
	if err != nil {
		return fmt.Errorf("connecting to feed: %w", err)
	}
	sub := feed.NewSubscriber(nc, cfg, svc, logger)
	if err := sub.Start(ctx); err != nil {
		nc.Close()
		return err
	}

	trk := tracker.New(cfg, store, sub, logger)
	trk.Start(ctx)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured, tenant tokens use an empty key")
	}
	secrets := auth.NewSecrets(store, cfg.Auth, logger)

	router := api.NewRouter(svc, trk, secrets, authService, logger, cfg.Server.StaticDir)
	router.StartWebSocketHub(ctx)
	if cfg.Server.StaticDir != "" {
		logger.Info("serving static files", "dir", cfg.Server.StaticDir)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown: stop accepting requests, stop the feed so no new
	// snapshots arrive, then close every active session.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	sub.Stop()
	trk.Stop()
	cancel()
	nc.Close()
	if ns != nil {
		ns.Shutdown()
	}
	logger.Info("shutdown complete")
	return runErr
}

// CLI helper variables
var (
	baseURL  = "http://localhost:8080"
	dbPath   string
	apiToken string
)

type cliFlags struct {
	configPath *string
	url        *string
	token      *string
}

func addCLIFlags(fs *flag.FlagSet) cliFlags {
	return cliFlags{
		configPath: fs.String("config", defaultConfigPath, "path to configuration file"),
		url:        fs.String("url", "", "base URL of the teamwatch server"),
		token:      fs.String("token", "", "tenant token for PIN protected tenants"),
	}
}

// loadCLIConfigFromFlags loads config using pre-parsed flag values. A
// missing config file falls back to defaults.
func loadCLIConfigFromFlags(f cliFlags) *config.Config {
	apiToken = *f.token
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *f.configPath, err)
		cfg = config.Default()
	}

	dbPath = cfg.Database.Path
	if *f.url != "" {
		baseURL = strings.TrimSuffix(*f.url, "/")
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func tenantArg(fs *flag.FlagSet, usage string) string {
	if fs.NArg() < 1 {
		fatalf("usage: %s", usage)
	}
	return fs.Arg(0)
}

func cliLogger() *slog.Logger {
	return observability.NewLogger("warn", term.IsTerminal(int(os.Stderr.Fd())))
}

func cmdSecret(args []string) {
	if len(args) < 1 {
		fatalf("secret subcommand required: status, set, remove")
	}
	subCmd := args[0]

	fs := flag.NewFlagSet("secret "+subCmd, flag.ExitOnError)
	cf := addCLIFlags(fs)
	fs.Parse(args[1:])
	cfg := loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch secret "+subCmd+" <tenant>")

	store, err := storage.Open(dbPath)
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	secrets := auth.NewSecrets(store, cfg.Auth, cliLogger())
	ctx := context.Background()

	switch subCmd {
	case "status":
		err = cmdSecretStatus(ctx, secrets, tenantID)
	case "set":
		err = cmdSecretSet(ctx, secrets, tenantID)
	case "remove":
		err = cmdSecretRemove(ctx, secrets, tenantID)
	default:
		err = fmt.Errorf("unknown secret command: %s (use: status, set, remove)", subCmd)
	}
	if err != nil {
		store.Close()
		fatalf("%v", err)
	}
}

func cmdSecretStatus(ctx context.Context, secrets *auth.Secrets, tenantID string) error {
	has, err := secrets.HasSecret(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to check secret: %w", err)
	}
	if has {
		fmt.Printf("Tenant '%s' is %s\n", tenantID, color.YellowString("PIN protected"))
	} else {
		fmt.Printf("Tenant '%s' is %s\n", tenantID, color.GreenString("open"))
	}
	return nil
}

func cmdSecretSet(ctx context.Context, secrets *auth.Secrets, tenantID string) error {
	fmt.Print("Enter PIN: ")
	pin, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read PIN: %w", err)
	}

	fmt.Print("Confirm PIN: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read PIN: %w", err)
	}
	if string(pin) != string(confirm) {
		return fmt.Errorf("PINs do not match")
	}

	if err := secrets.SetSecret(ctx, tenantID, string(pin)); err != nil {
		return fmt.Errorf("failed to set PIN: %w", err)
	}
	fmt.Printf("PIN set for tenant '%s'\n", tenantID)
	return nil
}

func cmdSecretRemove(ctx context.Context, secrets *auth.Secrets, tenantID string) error {
	removed, err := secrets.RemoveSecret(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to remove PIN: %w", err)
	}
	if !removed {
		fmt.Printf("Tenant '%s' had no PIN\n", tenantID)
		return nil
	}
	fmt.Printf("PIN removed for tenant '%s'\n", tenantID)
	return nil
}

// doJSON calls the running server and decodes the response into target
func doJSON(method, path string, target interface{}) error {
	req, err := http.NewRequest(method, baseURL+path, nil)
	if err != nil {
		return err
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func formatDuration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func cmdSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	cf := addCLIFlags(fs)
	player := fs.String("player", "", "only show sessions of this player")
	limit := fs.Int("limit", 20, "number of sessions to show")
	fs.Parse(args)
	loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch sessions <tenant> [--player ID] [--limit N]")

	path := fmt.Sprintf("/api/tenants/%s/sessions?limit=%d", tenantID, *limit)
	if *player != "" {
		path += "&player=" + *player
	}
	var sessions []domain.Session
	if err := doJSON(http.MethodGet, path, &sessions); err != nil {
		fatalf("%v", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded")
		return
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tNAME\tSTARTED\tENDED\tDURATION")
	fmt.Fprintln(w, "------\t----\t-------\t-----\t--------")
	for _, s := range sessions {
		ended := color.GreenString("active")
		if s.EndTime != nil {
			ended = s.EndTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.PlayerID, s.PlayerName,
			s.StartTime.Local().Format("2006-01-02 15:04"), ended, formatDuration(s.Duration(now)))
	}
	w.Flush()
}

func cmdCommands(args []string) {
	fs := flag.NewFlagSet("commands", flag.ExitOnError)
	cf := addCLIFlags(fs)
	limit := fs.Int("limit", 20, "number of commands to show")
	fs.Parse(args)
	loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch commands <tenant> [--limit N]")

	var commands []domain.CommandRecord
	if err := doJSON(http.MethodGet, fmt.Sprintf("/api/tenants/%s/commands?limit=%d", tenantID, *limit), &commands); err != nil {
		fatalf("%v", err)
	}
	if len(commands) == 0 {
		fmt.Println("No commands recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME	PLAYER	COMMAND")
	fmt.Fprintln(w, "----	------	-------")
	for _, c := range commands {
		who := c.PlayerName
		if who == "" {
			who = c.PlayerID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Timestamp.Local().Format("2006-01-02 15:04:05"), who, color.CyanString(c.Command))
	}
	w.Flush()
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cf := addCLIFlags(fs)
	days := fs.Int("days", 7, "period for server stats in days")
	fs.Parse(args)
	loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch stats <tenant> [--days N]")

	var server domain.ServerStats
	if err := doJSON(http.MethodGet, fmt.Sprintf("/api/tenants/%s/server-stats?days=%d", tenantID, *days), &server); err != nil {
		fatalf("%v", err)
	}
	var team domain.TeamStats
	if err := doJSON(http.MethodGet, fmt.Sprintf("/api/tenants/%s/team", tenantID), &team); err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Last %d days: %d players, %d sessions, %s played (avg %s)\n\n",
		*days, server.UniquePlayers, server.TotalSessions,
		formatDuration(server.TotalPlaytimeSeconds), formatDuration(int64(server.AvgSessionSeconds)))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tSESSIONS\tPLAYTIME\tLONGEST\tDEATHS\tDEATHS/H")
	fmt.Fprintln(w, "------\t--------\t--------\t-------\t------\t--------")
	for _, p := range team.Players {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%.2f\n", p.PlayerID, p.TotalSessions,
			formatDuration(p.TotalPlaytimeSeconds), formatDuration(p.LongestSessionSeconds),
			p.TotalDeaths, p.DeathsPerHour)
	}
	w.Flush()
}

// cmdReset goes through the running server so the tracker drops its
// in-memory state for the tenant along with the rows
func cmdReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	cf := addCLIFlags(fs)
	yes := fs.Bool("yes", false, "skip confirmation")
	fs.Parse(args)
	loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch reset <tenant> [--yes]")

	if !*yes {
		fmt.Printf("Delete all sessions and telemetry of tenant '%s'? [y/N] ", tenantID)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return
		}
	}

	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := doJSON(http.MethodPost, fmt.Sprintf("/api/tenants/%s/reset", tenantID), &result); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Deleted %d records\n", result.Deleted)
}

func cmdMaintenance(args []string) {
	fs := flag.NewFlagSet("maintenance", flag.ExitOnError)
	cf := addCLIFlags(fs)
	fs.Parse(args)
	cfg := loadCLIConfigFromFlags(cf)

	store, err := storage.Open(dbPath)
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	retention := tracker.NewRetention(cfg.Maintenance, store, cliLogger(), func() time.Time { return time.Now().UTC() })
	report := retention.Run(context.Background())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tAFFECTED\tERROR")
	fmt.Fprintln(w, "----\t--------\t-----")
	for _, step := range report.Steps {
		errStr := color.GreenString("-")
		if step.Error != "" {
			errStr = color.RedString(step.Error)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", step.Name, step.Affected, errStr)
	}
	w.Flush()
	fmt.Printf("\nRun %s: %d records affected\n", report.RunID, report.Total)
	if report.Failed {
		store.Close()
		os.Exit(1)
	}
}

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	cf := addCLIFlags(fs)
	fs.Parse(args)
	loadCLIConfigFromFlags(cf)

	var info struct {
		Database  domain.DatabaseInfo `json:"database"`
		Tracked   []string            `json:"tracked"`
		WSClients int                 `json:"ws_clients"`
	}
	if err := doJSON(http.MethodGet, "/api/info", &info); err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("Database:  %s (%.1f MB)\n", info.Database.Path, float64(info.Database.SizeBytes)/(1<<20))
	fmt.Printf("Tracking:  %s\n", strings.Join(info.Tracked, ", "))
	fmt.Printf("WebSocket: %d clients\n\n", info.WSClients)

	if len(info.Database.MaintenanceLog) == 0 {
		fmt.Println("No maintenance runs recorded")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tAFFECTED\tSTATUS")
	fmt.Fprintln(w, "----\t----\t--------\t------")
	for _, rec := range info.Database.MaintenanceLog {
		status := color.GreenString("ok")
		if rec.Failed {
			status = color.RedString("failed")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.Timestamp.Local().Format("2006-01-02 15:04"), rec.Type, rec.RecordsAffected, status)
	}
	w.Flush()
}

// cmdPublish pushes a snapshot or offline marker onto the feed, for feeding
// a test deployment by hand
func cmdPublish(args []string) {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	cf := addCLIFlags(fs)
	natsURL := fs.String("nats", "", "NATS URL (default: feed.url from config)")
	file := fs.String("file", "-", "snapshot JSON file, - for stdin")
	offline := fs.Bool("offline", false, "publish an offline marker instead of a snapshot")
	fs.Parse(args)
	cfg := loadCLIConfigFromFlags(cf)
	tenantID := tenantArg(fs, "teamwatch publish <tenant> [--file F] [--offline]")

	url := *natsURL
	if url == "" {
		url = cfg.Feed.URL
	}
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := feed.Connect(url, cliLogger())
	if err != nil {
		fatalf("failed to connect to feed: %v", err)
	}
	defer nc.Close()
	pub := feed.NewPublisher(nc, cfg.Feed.SubjectPrefix)

	if *offline {
		err = pub.PublishOffline(tenantID)
	} else {
		err = publishSnapshotFile(pub, tenantID, *file)
	}
	if err == nil {
		err = pub.Flush()
	}
	if err != nil {
		nc.Close()
		fatalf("%v", err)
	}
	fmt.Printf("Published to tenant '%s'\n", tenantID)
}

func publishSnapshotFile(pub *feed.Publisher, tenantID, path string) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	var snap domain.Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}
	snap.TenantID = tenantID
	return pub.PublishSnapshot(snap, time.Now().UTC())
}
