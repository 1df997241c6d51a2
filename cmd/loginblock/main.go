// Package main runs the 2FA service with in-memory repositories by default.
// Set LOGINBLOCK_PG_HOST to back users and 2FA settings with PostgreSQL, or
// LOGINBLOCK_DATA_DIR to persist everything as JSON files instead.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/acemedia/loginblock/pkg/auditlog"
	"github.com/acemedia/loginblock/pkg/backupcodes"
	"github.com/acemedia/loginblock/pkg/config"
	"github.com/acemedia/loginblock/pkg/loginflow"
	"github.com/acemedia/loginblock/pkg/notice"
	"github.com/acemedia/loginblock/pkg/ratelimit"
	"github.com/acemedia/loginblock/pkg/role"
	"github.com/acemedia/loginblock/pkg/tokens"
	"github.com/acemedia/loginblock/pkg/twofa"
	twofaapi "github.com/acemedia/loginblock/pkg/twofa/api"
	"github.com/acemedia/loginblock/pkg/user"
)

const issuer = "loginblock"

type JwtConfig struct {
	Secret string `env:"LOGINBLOCK_JWT_SECRET" env-default:"loginblock-dev-secret-change-in-production"`
}

type StorageConfig struct {
	// DataDir switches the repositories to JSON files under this directory.
	DataDir string `env:"LOGINBLOCK_DATA_DIR" env-default:""`
}

type Config struct {
	Jwt       JwtConfig
	Storage   StorageConfig
	TwoFa     config.TwoFaConfig
	RateLimit config.RateLimitConfig
	Email     config.EmailConfig
	Db        config.DatabaseConfig
}

func main() {
	godotenv.Load()

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	repos, err := buildRepositories(cfg)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(-1)
	}

	notificationManager, err := notice.NewNotificationManager(cfg.Email.ToSMTPConfig())
	if err != nil {
		slog.Error("Failed to initialize notifications", "error", err)
		os.Exit(-1)
	}

	userService := user.NewUserService(repos.users)
	roleService := role.NewRoleService(repos.requirements)
	backupService := backupcodes.NewBackupCodesService(repos.backupCodes)
	auditService := auditlog.NewAuditService(repos.auditEntries)
	tokenService := tokens.NewTokenService(cfg.Jwt.Secret, issuer)
	limiter := ratelimit.NewAttemptLimiter(cfg.RateLimit.PerUserMaxAttempts, cfg.RateLimit.PerUserWindow, cfg.RateLimit.PerUserWindow)

	twoFaService := twofa.NewTwoFaService(
		repos.settings,
		userService,
		roleService,
		backupService,
		auditService,
		limiter,
		notificationManager,
		tokenService,
		cfg.TwoFa,
	)

	flowService := loginflow.NewFlowService(&loginflow.ServiceDependencies{
		TwoFaService: twoFaService,
		UserService:  userService,
		RoleService:  roleService,
	}, loginflow.DefaultGateConfig())

	seedDemoData(repos, cfg)

	server := app.DefaultWithoutRoutes()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	jwtAuth := jwtauth.New("HS256", []byte(cfg.Jwt.Secret), nil)
	handle := twofaapi.NewHandle(twoFaService, backupService, jwtAuth)

	ipLimiter := ratelimit.NewMiddleware(&ratelimit.MiddlewareConfig{
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPMaxAttempts: cfg.RateLimit.PerIPMaxAttempts,
		PerIPWindow:      cfg.RateLimit.PerIPWindow,
		WindowTTL:        cfg.RateLimit.PerIPWindow,
		IncludeHeaders:   true,
	})

	server.R.Group(func(r chi.Router) {
		r.Use(ipLimiter.Handler)
		r.Mount("/acemedia/v1", twofaapi.Routes(handle))
	})

	// Demo login endpoint showing the credential grant pipeline end to end.
	// A real host calls flowService.BeforeCredentialGrant after its own
	// password check.
	server.R.Post("/demo/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Code     string `json:"code"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "unable to parse body"})
			return
		}

		result := flowService.BeforeCredentialGrant(r.Context(), loginflow.GrantRequest{
			Username:  body.Username,
			Code:      body.Code,
			IP:        ratelimit.GetClientIP(r),
			UserAgent: r.UserAgent(),
		})

		resp := map[string]interface{}{
			"allowed":       result.Allowed,
			"setupRequired": result.SetupRequired,
			"twoFARequired": result.TwoFARequired,
		}
		if result.Method != "" {
			resp["method"] = result.Method
		}
		if result.VerifiedToken != "" {
			resp["verifiedToken"] = result.VerifiedToken
		}
		if result.ErrorResponse != nil {
			resp["error"] = result.ErrorResponse.Error()
		}
		render.JSON(w, r, resp)
	})

	slog.Info("loginblock 2FA service ready",
		"storage", storageKind(cfg),
		"issuer", cfg.TwoFa.Issuer)
	slog.Info("Endpoints:")
	slog.Info("  POST /acemedia/v1/check-2fa    - 2FA status for a username")
	slog.Info("  POST /acemedia/v1/verify-2fa   - verify a code")
	slog.Info("  POST /acemedia/v1/setup-2fa    - save 2FA settings (auth)")
	slog.Info("  POST /acemedia/v1/backup-codes - get or regenerate codes (auth)")
	slog.Info("  POST /demo/login               - credential grant walkthrough")

	server.Run()
}

// repositories bundles the storage implementations picked at startup.
type repositories struct {
	users        user.UserRepository
	settings     twofa.SettingsRepository
	requirements role.RequirementRepository
	backupCodes  backupcodes.CodeRepository
	auditEntries auditlog.EntryRepository
}

func buildRepositories(cfg Config) (*repositories, error) {
	if cfg.Db.Enabled() {
		pool, err := pgxpool.New(context.Background(), cfg.Db.URL())
		if err != nil {
			return nil, err
		}

		// Role requirements, backup codes and audit entries are small and
		// churn-heavy; files keep them inspectable next to the database
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		requirements, err := role.NewFileRequirementRepository(dataDir)
		if err != nil {
			return nil, err
		}
		backupRepo, err := backupcodes.NewFileCodeRepository(dataDir)
		if err != nil {
			return nil, err
		}
		auditRepo, err := auditlog.NewFileEntryRepository(dataDir)
		if err != nil {
			return nil, err
		}

		return &repositories{
			users:        user.NewPostgresUserRepository(pool),
			settings:     twofa.NewPostgresSettingsRepository(pool),
			requirements: requirements,
			backupCodes:  backupRepo,
			auditEntries: auditRepo,
		}, nil
	}

	if cfg.Storage.DataDir != "" {
		users, err := user.NewFileUserRepository(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		settings, err := twofa.NewFileSettingsRepository(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		requirements, err := role.NewFileRequirementRepository(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		backupRepo, err := backupcodes.NewFileCodeRepository(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}
		auditRepo, err := auditlog.NewFileEntryRepository(cfg.Storage.DataDir)
		if err != nil {
			return nil, err
		}

		return &repositories{
			users:        users,
			settings:     settings,
			requirements: requirements,
			backupCodes:  backupRepo,
			auditEntries: auditRepo,
		}, nil
	}

	return &repositories{
		users:        user.NewInMemoryUserRepository(),
		settings:     twofa.NewInMemorySettingsRepository(),
		requirements: role.NewInMemoryRequirementRepository(),
		backupCodes:  backupcodes.NewInMemoryCodeRepository(),
		auditEntries: auditlog.NewInMemoryEntryRepository(),
	}, nil
}

// seedDemoData makes the in-memory mode usable out of the box.
func seedDemoData(repos *repositories, cfg Config) {
	if cfg.Db.Enabled() || cfg.Storage.DataDir != "" {
		return
	}

	ctx := context.Background()

	admin, err := repos.users.CreateUser(ctx, user.User{
		Username: "admin",
		Email:    "admin@example.com",
		Roles:    []string{"administrator"},
	})
	if err != nil {
		slog.Error("Failed to seed demo user", "error", err)
		return
	}

	if err := repos.requirements.SetRequirement(ctx, "administrator", true); err != nil {
		slog.Error("Failed to seed role requirement", "error", err)
		return
	}

	slog.Info("Seeded demo data", "username", admin.Username, "userID", admin.ID)
}

func storageKind(cfg Config) string {
	switch {
	case cfg.Db.Enabled():
		return "postgres"
	case cfg.Storage.DataDir != "":
		return "file:" + cfg.Storage.DataDir
	default:
		return "in-memory"
	}
}
