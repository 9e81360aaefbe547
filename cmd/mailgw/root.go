package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mailgateway/internal/credential"
	"github.com/nhle/mailgateway/internal/gateway"
	"github.com/nhle/mailgateway/internal/lock"
	"github.com/nhle/mailgateway/internal/logging"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/store"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "mailgw",
		Short:         "Mail gateway: send through and ingest from a Graph mailbox",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(opts),
		syncCmd(opts),
		statsCmd(opts),
		sendCmd(opts),
		loginCmd(opts),
		logoutCmd(opts),
	)
	return cmd
}

// env is everything a command needs, built from config.
type env struct {
	cfg     *model.AppConfig
	logger  zerolog.Logger
	store   *store.SQLiteStore
	redis   *redis.Client
	service *gateway.Service
}

// loadConfig reads configuration, fills the client secret from the keyring
// when unset, and builds the logger.
func loadConfig(opts *globalOptions) (*model.AppConfig, zerolog.Logger, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	cfg.ResolveClientSecret(credential.Get)
	return cfg, logger, nil
}

// openStore loads configuration and opens only the store, for commands
// that never reach the provider.
func openStore(opts *globalOptions) (*env, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: st}, nil
}

// openEnv loads and validates configuration and wires the full gateway.
func openEnv(opts *globalOptions) (*env, error) {
	e, err := openStore(opts)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Validate(); err != nil {
		e.close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var locker lock.Locker
	if addr := e.cfg.Lock.RedisAddr; addr != "" {
		e.redis = lock.NewRedisClient(addr, e.cfg.Lock.RedisDB)
		locker = lock.NewRedis(e.redis, e.cfg.Lock.Key, e.cfg.Lock.TTL())
		e.logger.Info().Str("redis_addr", addr).Msg("using shared sync lock")
	}

	e.service = gateway.New(e.cfg, e.store, locker, e.logger)
	return e, nil
}

func (e *env) close() {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Error().Err(err).Msg("closing redis client")
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("closing store")
	}
}
