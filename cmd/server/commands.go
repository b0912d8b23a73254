package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"bar-crm/internal/service"
	jwtutil "bar-crm/pkg/jwt"
)

func runMigrateCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	migrationDir := "/migrations"
	if _, statErr := os.Stat(migrationDir); statErr != nil {
		migrationDir = "./migrations"
	}

	if err := runMigrateUp("file://"+migrationDir, cfg.Database.URL); err != nil {
		return err
	}
	fmt.Println("migrations applied successfully")
	return nil
}

func runMigrateUp(sourceURL, databaseURL string) error {
	migrator, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer migrator.Close() //nolint:errcheck

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations failed: %w", err)
	}
	return nil
}

// runRecalculateCommand runs one batch in the foreground and prints the
// report. A blocked or partial run exits non-zero after printing.
func runRecalculateCommand(args []string) error {
	fs := flag.NewFlagSet("recalculate", flag.ContinueOnError)
	force := fs.Bool("force", false, "commit accounts that pass and report the rest")
	pageSize := fs.Int("page-size", 0, "accounts per page (default from config)")
	accountID := fs.String("account", "", "recalculate a single account id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	logger, _, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Recalculation.Timeout)
	defer cancel()
	ctx = service.WithActor(ctx, service.ActorCLI)

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if id := strings.TrimSpace(*accountID); id != "" {
		result, runErr := app.recalculation.RecalculateAccount(ctx, id)
		if result != nil {
			if err := printJSON(result); err != nil {
				return err
			}
		}
		return runErr
	}

	size := *pageSize
	if size <= 0 {
		size = cfg.Recalculation.PageSize
	}
	report, runErr := app.recalculation.RecalculateAll(ctx, service.RecalculationOptions{
		Force:    *force,
		PageSize: size,
	})
	if report != nil {
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return runErr
}

// runTokenCommand issues an admin access token for operators and scripts.
func runTokenCommand(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "operator id recorded as the audit actor")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	operator := strings.TrimSpace(*userID)
	if operator == "" {
		return errors.New("--user is required")
	}
	if *ttl <= 0 || *ttl > 30*24*time.Hour {
		return errors.New("--ttl must be between 1s and 720h")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	privateKey, err := jwtutil.LoadPrivateKeyFile(cfg.Security.JWTPrivateKeyFile)
	if err != nil {
		return fmt.Errorf("load jwt private key failed: %w", err)
	}

	token, err := jwtutil.GenerateAccessToken(jwtutil.NewClaims(operator, jwtutil.RoleAdmin, nil, *ttl), privateKey)
	if err != nil {
		return fmt.Errorf("sign token failed: %w", err)
	}
	fmt.Println(token)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	port := strings.TrimSpace(os.Getenv("POINTS_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}
	resp, err := client.Get("http://localhost:" + port + "/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
