package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/mtlprog/taskboard/internal/auth"
	"github.com/mtlprog/taskboard/internal/config"
	"github.com/mtlprog/taskboard/internal/database"
	"github.com/mtlprog/taskboard/internal/handler"
	"github.com/mtlprog/taskboard/internal/logger"
	"github.com/mtlprog/taskboard/internal/middleware"
	"github.com/mtlprog/taskboard/internal/repository"
	"github.com/mtlprog/taskboard/internal/service"
	"github.com/urfave/cli/v2"
)

func main() {
	// Values from .env never override the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	app := &cli.App{
		Name:  "taskboard",
		Usage: "Project and task tracker with an audited task workflow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "Log format (json, text)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")), c.String("log-format"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web server",
				Flags:  serveFlags(),
				Action: runServe,
			},
			{
				Name:  "migrate",
				Usage: "Apply pending database migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "down",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: runMigrate,
			},
			{
				Name:  "promote-owner",
				Usage: "Grant the OWNER role to an existing account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Email of the account to promote",
						Required: true,
					},
				},
				Action: runPromoteOwner,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   config.DefaultPort,
			Usage:   "HTTP server port",
			EnvVars: []string{"PORT"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Secret used to sign access tokens",
			EnvVars: []string{"JWT_SECRET"},
		},
		&cli.DurationFlag{
			Name:    "jwt-ttl",
			Value:   config.DefaultJWTTTL,
			Usage:   "Access token lifetime",
			EnvVars: []string{"JWT_TTL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for rate limiting (disabled when empty)",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.IntFlag{
			Name:    "rate-limit",
			Value:   config.DefaultRateLimit,
			Usage:   "Requests allowed per client and window",
			EnvVars: []string{"RATE_LIMIT_MAX"},
		},
		&cli.DurationFlag{
			Name:    "rate-window",
			Value:   config.DefaultRateWindow,
			Usage:   "Rate limiting window",
			EnvVars: []string{"RATE_LIMIT_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "auth-rate-limit",
			Value:   config.DefaultAuthRateLimit,
			Usage:   "Register and login attempts allowed per client address and window",
			EnvVars: []string{"AUTH_RATE_LIMIT_MAX"},
		},
		&cli.DurationFlag{
			Name:    "auth-rate-window",
			Value:   config.DefaultAuthRateWindow,
			Usage:   "Register and login rate limiting window",
			EnvVars: []string{"AUTH_RATE_LIMIT_WINDOW"},
		},
		&cli.StringSliceFlag{
			Name:    "trusted-proxy",
			Usage:   "Proxy IP or CIDR whose X-Forwarded-For header is trusted (repeatable)",
			EnvVars: []string{"TRUSTED_PROXIES"},
		},
	}
}

// loadConfig reads serve settings. When serve runs as the default action its
// flags are not parsed, so the environment and defaults are used instead.
func loadConfig(c *cli.Context) config.Config {
	cfg := config.Config{
		Port:        c.String("port"),
		DatabaseURL: c.String("database-url"),
		JWTSecret:   c.String("jwt-secret"),
		JWTTTL:      c.Duration("jwt-ttl"),
		RedisURL:    c.String("redis-url"),
		RateLimit:   c.Int("rate-limit"),
		RateWindow:  c.Duration("rate-window"),

		AuthRateLimit:  c.Int("auth-rate-limit"),
		AuthRateWindow: c.Duration("auth-rate-window"),
		TrustedProxies: c.StringSlice("trusted-proxy"),
	}

	if cfg.Port == "" {
		cfg.Port = envOr("PORT", config.DefaultPort)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = config.DefaultJWTTTL
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = config.DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = config.DefaultRateWindow
	}
	if cfg.AuthRateLimit <= 0 {
		cfg.AuthRateLimit = config.DefaultAuthRateLimit
	}
	if cfg.AuthRateWindow <= 0 {
		cfg.AuthRateWindow = config.DefaultAuthRateWindow
	}
	if len(cfg.TrustedProxies) == 0 {
		if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
			cfg.TrustedProxies = strings.Split(v, ",")
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe(c *cli.Context) error {
	ctx := c.Context
	cfg := loadConfig(c)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("failed to configure tokens: %w", err)
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	h := handler.New(db, tokens)

	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		ips, err := middleware.NewClientIP(cfg.TrustedProxies)
		if err != nil {
			return err
		}

		general := middleware.NewRedisRateLimiter(client, "general", cfg.RateLimit, cfg.RateWindow)
		authAttempts := middleware.NewRedisRateLimiter(client, "auth", cfg.AuthRateLimit, cfg.AuthRateWindow)
		h.WithRateLimits(handler.RateLimits{
			Auth:    middleware.RateLimit(authAttempts, cfg.AuthRateLimit, ips.ByIP),
			General: middleware.RateLimit(general, cfg.RateLimit, ips.ByActor),
		})
		slog.Info("rate limiting enabled",
			"limit", cfg.RateLimit,
			"window", cfg.RateWindow.String(),
			"auth_limit", cfg.AuthRateLimit,
			"auth_window", cfg.AuthRateWindow.String(),
			"trusted_proxies", len(cfg.TrustedProxies),
		)
	} else {
		slog.Warn("rate limiting disabled, redis-url is not set")
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Chain(mux, middleware.Recover, middleware.RequestLogger, middleware.Metrics),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func runMigrate(c *cli.Context) error {
	ctx := c.Context

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if c.Bool("down") {
		return database.RollbackMigration(ctx, db.Pool())
	}
	return database.RunMigrations(ctx, db.Pool())
}

// runPromoteOwner bootstraps the first OWNER, who can then promote others over the API.
func runPromoteOwner(c *cli.Context) error {
	ctx := c.Context

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	users := service.NewUserService(db, repository.NewUserRepository(db.Pool()), nil)
	user, err := users.PromoteByEmail(ctx, c.String("email"))
	if err != nil {
		return fmt.Errorf("failed to promote %s: %w", c.String("email"), err)
	}

	slog.Info("user promoted to OWNER", "user_id", user.ID, "email", user.Email)
	return nil
}
