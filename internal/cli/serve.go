package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valorwatch/valorwatch/internal/account"
	"github.com/valorwatch/valorwatch/internal/api"
	"github.com/valorwatch/valorwatch/internal/config"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/maintenance"
	"github.com/valorwatch/valorwatch/internal/metrics"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/secret"
	"github.com/valorwatch/valorwatch/internal/store"
	"github.com/valorwatch/valorwatch/internal/telegram"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "run"},
	Short:   "Start the valorwatch service",
	Long: `Start the valorwatch service: the Telegram bot front end, the
background maintenance jobs and the admin HTTP server.

Example:
  valorwatch serve --config config.yaml`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if globalFlags.DBPath != "" {
		cfg.Database.Path = globalFlags.DBPath
	}

	level := logging.ParseLevel(cfg.Server.LogLevel)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(
		logging.WithService("valorwatch"),
		logging.WithLevel(level),
	)

	keys, err := cfg.Encryption.KeyBytes()
	if err != nil {
		return fmt.Errorf("encryption keys: %w", err)
	}
	secrets, err := secret.NewStore(keys)
	if err != nil {
		return fmt.Errorf("encryption keys: %w", err)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer sqliteStore.Close()

	m := metrics.New("valorwatch")

	endpoints := riot.DefaultEndpoints()
	version := riot.NewClientVersion(endpoints.VersionURL, cfg.Riot.RequestTimeout, logger, m)
	riotClient := riot.NewClient(endpoints, version, logger, m,
		riot.WithTimeout(cfg.Riot.RequestTimeout))

	// Prime the fingerprint; sessions work with the fallback headers until
	// the first successful refresh.
	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), cfg.Riot.RequestTimeout)
	if _, err := version.Refresh(refreshCtx); err != nil {
		logger.Warn("initial client version refresh failed", "error", err.Error())
	}
	cancelRefresh()

	accounts := account.NewService(sqliteStore, secrets, riotClient, logger)

	cache := valapi.NewCache(m)
	gameData := valapi.New(playerDataBase(cfg.Riot.Shard), riotClient, cache, logger, m, valapi.Options{
		TTLs:              cfg.Cache.TTLs,
		RequestsPerSecond: cfg.Cache.RequestsPerSecond,
		Burst:             cfg.Cache.Burst,
	})

	scheduler, err := maintenance.NewScheduler(maintenance.Config{
		Timezone:          cfg.Cache.Timezone,
		FlushTime:         cfg.Cache.FlushTime,
		VersionCheckTimes: cfg.Maintenance.VersionCheckTimes,
	}, version, gameData.ClearCache, logger)
	if err != nil {
		return fmt.Errorf("maintenance scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	var bot *telegram.Bot
	if cfg.Telegram.Enabled {
		botAPI, err := telegram.NewTGBotAPIClient(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("telegram client: %w", err)
		}
		bot = telegram.NewBot(true, cfg.Riot.Region, accounts, gameData, sqliteStore, logger, &telegram.BotOptions{
			BotAPI:      botAPI,
			RateLimiter: telegram.NewRateLimiter(cfg.Telegram.MessagesPerMinute),
			MFATimeout:  cfg.Riot.MFATimeout,
		})
		if err := bot.Start(); err != nil {
			return fmt.Errorf("start telegram bot: %w", err)
		}
	}

	server := api.NewServer(cfg.Server, m, gameData, version, sqliteStore, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Only the TTL table and log level take effect on reload.
	loader.SetOnChange(func(next *config.Config) {
		logger.SetLevel(logging.ParseLevel(next.Server.LogLevel))
		gameData.UpdateTTLs(next.Cache.TTLs)
		logger.Info("configuration reloaded")
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err.Error())
	}
	defer loader.Stop()

	logger.Info("valorwatch started",
		"region", cfg.Riot.Region,
		"shard", cfg.Riot.Shard,
		"telegram", cfg.Telegram.Enabled)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	if bot != nil {
		if err := bot.Stop(); err != nil {
			logger.Warn("telegram bot shutdown", "error", err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", "error", err.Error())
	}

	return nil
}

// playerDataBase derives the player-data host from the shard.
func playerDataBase(shard string) string {
	return fmt.Sprintf("https://pd.%s.a.pvp.net", shard)
}
