package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/observability/logging"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/profile"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/version"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/runner/backup"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/cache"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "finja-memory",
		Short: `Adaptive per-user memory service. Stores what matters, skips what does not.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide the environment themselves.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			logging.Setup(viper.GetString("mode"), logging.ParseLevel(viper.GetString("log-level")))
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Restore one user from a dated backup while the server is stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			date, _ := cmd.Flags().GetString("date")
			return withOffline(cmd.Context(), func(ctx context.Context, runner *backup.Runner) error {
				n, err := runner.Restore(ctx, userID, date)
				if err != nil {
					return err
				}
				fmt.Printf("Restored %d memories of %s from %s\n", n, userID, date)
				return nil
			})
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot one user, or every user, while the server is stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return withOffline(cmd.Context(), func(ctx context.Context, runner *backup.Runner) error {
				if userID != "" {
					path, err := runner.BackupUser(ctx, userID)
					if err != nil {
						return err
					}
					fmt.Println(path)
					return nil
				}
				archives, err := runner.BackupAll(ctx)
				for _, path := range archives {
					fmt.Println(path)
				}
				return err
			})
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "file")
	viper.SetDefault("port", 8080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8080, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "file", "storage driver (file, sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "log-level"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("finja")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	restoreCmd.Flags().String("user", "", "user id to restore")
	restoreCmd.Flags().String("date", "", "backup date, YYYY-MM-DD")
	_ = restoreCmd.MarkFlagRequired("user")
	_ = restoreCmd.MarkFlagRequired("date")
	backupCmd.Flags().String("user", "", "user id to back up; all users when empty")

	rootCmd.AddCommand(serveCmd, restoreCmd, backupCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance, err := store.New(dbDriver, instanceProfile)
	if err != nil {
		_ = dbDriver.Close()
		return nil, err
	}
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

func serve() error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		slog.Error("failed to open store", "driver", instanceProfile.Driver, "error", err)
		return err
	}

	s, err := server.NewServer(ctx, instanceProfile, storeInstance)
	if err != nil {
		_ = storeInstance.Close()
		slog.Error("failed to create server", "error", err)
		return err
	}

	c := make(chan os.Signal, 1)
	// SIGTERM is what process managers such as systemd and kubernetes send.
	signal.Notify(c, terminationSignals...)

	if err := s.Start(ctx); err != nil {
		slog.Error("failed to start server", "error", err)
		s.Shutdown(ctx)
		return err
	}

	printGreetings(instanceProfile)

	go func() {
		<-c
		s.Shutdown(ctx)
		cancel()
	}()

	// Wait for CTRL-C.
	<-ctx.Done()
	return nil
}

// withOffline runs fn against the store without the HTTP server. The cache
// is flushed and the store closed afterwards.
func withOffline(ctx context.Context, fn func(context.Context, *backup.Runner) error) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer storeInstance.Close()

	cacheManager := cache.NewManager(storeInstance, cache.DefaultConfig())
	runner := backup.NewRunner(storeInstance, cacheManager, backup.Config{
		Dir:           instanceProfile.BackupDir(),
		RetentionDays: instanceProfile.BackupRetentionDays,
	}, nil)

	runErr := fn(ctx, runner)
	if err := cacheManager.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Finja memory %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.APIKey == "" {
			fmt.Fprint(os.Stderr, "MEMORY_API_KEY is not set: every keyed endpoint answers 401\n")
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Storage driver: %s\n", profile.Driver)
	fmt.Printf("Processing mode: %s\n", profile.ProcessingMode)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
	fmt.Println()
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
