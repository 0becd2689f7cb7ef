package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/loyalty/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/loyalty/internal/webhook"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagStoreBackend   = "store"
	flagWebhookSecret  = "webhook-secret"
	flagSignatureHdr   = "signature-header"
	flagAdminSecret    = "admin-jwt-secret"
	flagAdminIssuer    = "admin-jwt-issuer"
	flagAllowedOrigins = "allowed-origins"
	flagPointsRate     = "points-rate"
	flagBonusMult      = "bonus-multiplier"
	flagMinQualifying  = "min-qualifying-amount"
	flagCurrency       = "currency"
	flagTierSchedule   = "tier-schedule"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyStoreBackend   = "store_backend"
	configKeyWebhookSecret  = "webhook_secret"
	configKeySignatureHdr   = "signature_header"
	configKeyAdminSecret    = "admin_jwt_secret"
	configKeyAdminIssuer    = "admin_jwt_issuer"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyPointsRate     = "points_rate"
	configKeyBonusMult      = "bonus_multiplier"
	configKeyMinQualifying  = "min_qualifying_amount"
	configKeyCurrency       = "currency"
	configKeyTierSchedule   = "tier_schedule"

	defaultDatabaseURL = "sqlite:///tmp/loyalty.db"
	defaultListenAddr  = ":8080"

	storeBackendGorm = "gorm"
	storeBackendPgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	StoreBackend   string
	WebhookSecret  string
	SignatureHdr   string
	AdminSecret    string
	AdminIssuer    string
	AllowedOrigins string
	PointsRate     string
	BonusMult      string
	MinQualifying  string
	Currency       string
	TierSchedule   string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loyaltyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "loyaltyd",
		Short:         "Loyalty points webhook and ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStoreBackend, storeBackendGorm, "storage backend (gorm or pgx)")
	cmd.Flags().String(flagWebhookSecret, "", "shared secret for webhook HMAC signatures")
	cmd.Flags().String(flagSignatureHdr, "", "header carrying the webhook HMAC digest")
	cmd.Flags().String(flagAdminSecret, "", "HS256 secret for admin API bearer tokens")
	cmd.Flags().String(flagAdminIssuer, "", "expected issuer of admin API bearer tokens")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagPointsRate, "2", "points per currency unit")
	cmd.Flags().String(flagBonusMult, "1.5", "multiplier for bonus channels")
	cmd.Flags().String(flagMinQualifying, "5", "minimum order amount that earns points")
	cmd.Flags().String(flagCurrency, "USD", "the single accepted currency code")
	cmd.Flags().String(flagTierSchedule, "", "tier schedule as min:name:multiplier,... (default built-in)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "HTTP_LISTEN_ADDR",
		configKeyStoreBackend:   "STORE_BACKEND",
		configKeyWebhookSecret:  "WEBHOOK_SECRET",
		configKeySignatureHdr:   "WEBHOOK_SIGNATURE_HEADER",
		configKeyAdminSecret:    "ADMIN_JWT_SECRET",
		configKeyAdminIssuer:    "ADMIN_JWT_ISSUER",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyPointsRate:     "POINTS_RATE",
		configKeyBonusMult:      "BONUS_MULTIPLIER",
		configKeyMinQualifying:  "MIN_QUALIFYING_AMOUNT",
		configKeyCurrency:       "CURRENCY",
		configKeyTierSchedule:   "TIER_SCHEDULE",
	}
	for configKey, envName := range envBindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyStoreBackend:   flagStoreBackend,
		configKeyWebhookSecret:  flagWebhookSecret,
		configKeySignatureHdr:   flagSignatureHdr,
		configKeyAdminSecret:    flagAdminSecret,
		configKeyAdminIssuer:    flagAdminIssuer,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyPointsRate:     flagPointsRate,
		configKeyBonusMult:      flagBonusMult,
		configKeyMinQualifying:  flagMinQualifying,
		configKeyCurrency:       flagCurrency,
		configKeyTierSchedule:   flagTierSchedule,
	}
	for configKey, flagName := range flagBindings {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	cfg.WebhookSecret = viper.GetString(configKeyWebhookSecret)
	cfg.SignatureHdr = viper.GetString(configKeySignatureHdr)
	cfg.AdminSecret = viper.GetString(configKeyAdminSecret)
	cfg.AdminIssuer = viper.GetString(configKeyAdminIssuer)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.PointsRate = viper.GetString(configKeyPointsRate)
	cfg.BonusMult = viper.GetString(configKeyBonusMult)
	cfg.MinQualifying = viper.GetString(configKeyMinQualifying)
	cfg.Currency = viper.GetString(configKeyCurrency)
	cfg.TierSchedule = viper.GetString(configKeyTierSchedule)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.StoreBackend != storeBackendGorm && cfg.StoreBackend != storeBackendPgx {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if cfg.AdminSecret == "" {
		return fmt.Errorf("admin jwt secret is required")
	}
	return nil
}

func buildPolicy(cfg *runtimeConfig) (loyalty.Policy, error) {
	policy := loyalty.DefaultPolicy()
	rate, err := decimal.NewFromString(cfg.PointsRate)
	if err != nil {
		return loyalty.Policy{}, fmt.Errorf("points rate: %w", err)
	}
	bonus, err := decimal.NewFromString(cfg.BonusMult)
	if err != nil {
		return loyalty.Policy{}, fmt.Errorf("bonus multiplier: %w", err)
	}
	minQualifying, err := decimal.NewFromString(cfg.MinQualifying)
	if err != nil {
		return loyalty.Policy{}, fmt.Errorf("min qualifying amount: %w", err)
	}
	policy.PointsPerUnit = rate
	policy.BonusMultiplier = bonus
	policy.MinQualifyingAmount = minQualifying
	policy.Currency = cfg.Currency
	if cfg.TierSchedule != "" {
		schedule, err := loyalty.ParseTierSchedule(cfg.TierSchedule)
		if err != nil {
			return loyalty.Policy{}, err
		}
		policy.Tiers = schedule
	}
	if err := policy.Validate(); err != nil {
		return loyalty.Policy{}, err
	}
	return policy, nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	policy, err := buildPolicy(cfg)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := loyalty.NewService(store, policy, clock,
		loyalty.WithOperationLogger(webhook.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("loyalty service init: %w", err)
	}

	serverConfig := webhook.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  webhook.ParseAllowedOrigins(cfg.AllowedOrigins),
		WebhookSecret:   cfg.WebhookSecret,
		SignatureHeader: cfg.SignatureHdr,
		AdminJWTSecret:  cfg.AdminSecret,
		AdminJWTIssuer:  cfg.AdminIssuer,
	}
	return webhook.Run(ctx, serverConfig, service, logger)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (loyalty.Store, func() error, error) {
	if cfg.StoreBackend == storeBackendPgx {
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres connection string")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var (
		db  *gorm.DB
		cfg *gorm.Config
	)
	cfg = &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "loyalty.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
