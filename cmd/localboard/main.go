// localboard serves the location-scoped request board.
//
// Usage:
//
//	localboard [serve] [--config file] [--env-file file] [--addr host:port]
//	                   [--db-driver sqlite3|postgres] [--db-dsn dsn]
//	localboard token --user ID [--role admin] [--ttl 24h]
//
// The token subcommand mints a bearer token signed with the configured
// secret, for operators and local testing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"localboard/internal/app"
	"localboard/internal/auth"
	"localboard/internal/config"
	"localboard/pkg/logger"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string, stdout io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "token":
			return runToken(args[1:], stdout)
		case "serve":
			args = args[1:]
		}
	}
	return runServe(args)
}

// commonFlags are shared by every subcommand
type commonFlags struct {
	configPath string
	envFile    string
	addr       string
	dbDriver   string
	dbDSN      string
	logLevel   string
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "YAML config file (overrides environment)")
	fs.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	fs.StringVar(&c.addr, "addr", "", "listen address host:port")
	fs.StringVar(&c.dbDriver, "db-driver", "", "database driver: sqlite3 or postgres")
	fs.StringVar(&c.dbDSN, "db-dsn", "", "database file path (sqlite3) or connection string (postgres)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
}

// load resolves the configuration: flags > file > environment > defaults
func (c *commonFlags) load() (*config.Config, error) {
	if err := config.LoadEnvFile(c.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigWithPrecedence(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.addr != "" {
		host, port, err := net.SplitHostPort(c.addr)
		if err != nil {
			return nil, fmt.Errorf("invalid --addr %q: %w", c.addr, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid --addr port %q", port)
		}
		if host != "" {
			cfg.HTTP.Host = host
		}
		cfg.HTTP.Port = n
	}
	if c.dbDriver != "" {
		cfg.Database.Driver = c.dbDriver
	}
	if c.dbDSN != "" {
		cfg.Database.DSN = c.dbDSN
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

func runServe(args []string) error {
	var flags commonFlags
	fs := pflag.NewFlagSet("localboard", pflag.ContinueOnError)
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func runToken(args []string, stdout io.Writer) error {
	var (
		flags  commonFlags
		userID string
		role   string
		ttl    time.Duration
	)
	fs := pflag.NewFlagSet("localboard token", pflag.ContinueOnError)
	flags.register(fs)
	fs.StringVarP(&userID, "user", "u", "", "user ID (token subject)")
	fs.StringVar(&role, "role", "", "role claim; \"admin\" grants moderation")
	fs.DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := flags.load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(userID, role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
