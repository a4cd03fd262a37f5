package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seidata/curator/pkg/api"
	"github.com/seidata/curator/pkg/auth"
	"github.com/seidata/curator/pkg/availability"
	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/config"
	"github.com/seidata/curator/pkg/daemon"
	"github.com/seidata/curator/pkg/events"
	"github.com/seidata/curator/pkg/executor"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/prototype"
	"github.com/seidata/curator/pkg/storage"
	"github.com/seidata/curator/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Curator - station metadata curation pipeline",
	Long: `Curator receives FDSN StationXML submissions from network operators,
validates and converts them with the data center's external tooling,
and tracks every document through an auditable lifecycle until it is
published on the public query webservice or rejected with a reason.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Curator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(prototypeCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(inventoryCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig() (*config.Config, error) {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	return config.Load(path)
}

// openServices builds the shared collaborators every command needs.
func openServices(cfg *config.Config) (storage.Store, *blob.Store, *prototype.Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	blobs, err := blob.NewStore(cfg.MetadataPath)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	registry := prototype.NewRegistry(store, blobs)
	return store, blobs, registry, nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the curation service",
	Long: `Run the full curation service: the HTTP intake and read API, the
lifecycle daemon, the availability checker, and the prototype
directory watcher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, blobs, registry, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		exec := executor.New(cfg.ConverterPath, cfg.ConverterTimeout.Std())
		authService := auth.NewService(store, registry, cfg.SessionTTL.Std())
		resolver := daemon.NewResolver(store)

		lifecycle := daemon.New(daemon.Config{
			PollInterval:       cfg.PollInterval.Std(),
			NodeID:             cfg.NodeID,
			PurgeDeleted:       cfg.PurgeDeleted,
			ReconfigureOnMerge: cfg.ReconfigureOnMerge,
		}, store, blobs, registry, exec, broker)

		checker := availability.NewChecker(store, cfg.QueryServiceURL, cfg.AvailabilityInterval.Std())
		watcher := prototype.NewWatcher(registry, cfg.PrototypeDir)
		server := api.NewServer(cfg, store, blobs, registry, authService, resolver, exec, broker)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		group, ctx := errgroup.WithContext(ctx)
		group.Go(func() error { return server.Run(ctx) })
		group.Go(func() error { return lifecycle.Run(ctx) })
		group.Go(func() error { return checker.Run(ctx) })
		group.Go(func() error { return watcher.Run(ctx) })

		log.Info(fmt.Sprintf("curator node %s started on %s", cfg.NodeID, cfg.ListenAddr()))
		return group.Wait()
	},
}

var prototypeCmd = &cobra.Command{
	Use:   "prototype",
	Short: "Manage network prototypes",
}

var prototypeIngestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest prototype files, or the whole prototype directory when no files are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, registry, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			added, err := registry.IngestDir(cfg.PrototypeDir)
			if err != nil {
				return err
			}
			fmt.Printf("%d prototypes ingested from %s\n", added, cfg.PrototypeDir)
			return nil
		}

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %v", path, err)
			}
			proto, isNew, err := registry.Ingest(data)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %v", path, err)
			}
			if isNew {
				fmt.Printf("ingested prototype %s (%s)\n", proto.Network.Code, proto.Hash)
			} else {
				fmt.Printf("prototype %s already known (%s)\n", proto.Network.Code, proto.Hash)
			}
		}
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an operator or administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, registry, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		roleName, _ := cmd.Flags().GetString("role")
		network, _ := cmd.Flags().GetString("network")
		start, _ := cmd.Flags().GetString("start")

		role := types.Role(roleName)
		if role != types.RoleAdmin && role != types.RoleOperator {
			return fmt.Errorf("role must be admin or operator")
		}

		var bound *types.Network
		if role == types.RoleOperator {
			startDate, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start date: %v", err)
			}
			bound = &types.Network{Code: network, Start: startDate.UTC()}
		}

		authService := auth.NewService(store, registry, cfg.SessionTTL.Std())
		user, err := authService.CreateUser(username, password, role, bound)
		if err != nil {
			return err
		}
		fmt.Printf("user %s created (%s)\n", user.Username, user.ID)
		return nil
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Export the merged inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, blobs, _, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		set, err := store.AcceptedSet()
		if err != nil {
			return err
		}

		var files []string
		for _, rec := range set {
			if blobs.Exists(rec.Path, blob.ExtConverted) {
				files = append(files, blobs.Abs(rec.Path, blob.ExtConverted))
			}
		}
		if len(files) == 0 {
			return fmt.Errorf("no accepted inventory to merge")
		}

		exec := executor.New(cfg.ConverterPath, cfg.ConverterTimeout.Std())
		result, err := exec.Merge(cmd.Context(), files, os.Stdout)
		if err != nil {
			return err
		}
		if !result.Ok() {
			return fmt.Errorf("merge failed: %s", result.Stderr)
		}
		return nil
	},
}

func init() {
	prototypeCmd.AddCommand(prototypeIngestCmd)

	userAddCmd.Flags().String("username", "", "Login name")
	userAddCmd.Flags().String("password", "", "Password")
	userAddCmd.Flags().String("role", "operator", "Role (admin or operator)")
	userAddCmd.Flags().String("network", "", "Bound network code (operators)")
	userAddCmd.Flags().String("start", "", "Bound network start date, YYYY-MM-DD (operators)")
	userCmd.AddCommand(userAddCmd)
}
