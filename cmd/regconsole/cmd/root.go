package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/regconsole/events"
	"github.com/jmcleod/regconsole/interceptor"
	"github.com/jmcleod/regconsole/internal/config"
	"github.com/jmcleod/regconsole/session"
	bboltstorage "github.com/jmcleod/regconsole/storage/bbolt"
)

var (
	v      = viper.New()
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "regconsole",
	Short: "regconsole is the registry admin console backend",
	Long: `Local backend for the registry admin console. Registry calls rejected for
missing authorization are held until a login succeeds, then replayed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		logger = cfg.Logger(cmd.ErrOrStderr())
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	config.SetupFlags(rootCmd)
	if err := config.Bind(v, rootCmd); err != nil {
		panic(err)
	}
}

// openStore opens the persisted credential store. The returned function
// closes the underlying database.
func openStore() (*session.Store, func() error, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.CredentialDBPath(), &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential storage: %w", err)
	}

	opts := []session.Option{session.WithLogger(logger)}
	key, err := cfg.SealingKey()
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	if key != nil {
		opts = append(opts, session.WithSealingKey(key))
	}

	store, err := session.NewStore(repo, opts...)
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, repo.Close, nil
}

func newTransport(store *session.Store, bus *events.Bus) *interceptor.Transport {
	return interceptor.New(store, bus,
		interceptor.WithUnauthorizedStatus(cfg.AuthStatus),
		interceptor.WithDefaultHeader("User-Agent", "regconsole/"+Version),
		interceptor.WithLogger(logger),
	)
}
