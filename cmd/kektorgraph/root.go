package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/persist"
	"github.com/sanonone/kektorgraph/pkg/store/sqlstore"
)

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kektorgraph",
		Short: "Persistent HNSW nearest-neighbor graphs",
		Long: `kektorgraph builds HNSW proximity graphs over word vectors, persists them
into an entity/relationship store and answers nearest-neighbor queries
against the stored graph.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().String("data-dir", "", "Override store.data_dir")
	cmd.PersistentFlags().String("backend", "", "Override store.backend (engine or sqlite)")
	cmd.PersistentFlags().Bool("json", false, "Output as JSON")

	cmd.AddCommand(
		NewBuildCmd(),
		NewQueryCmd(),
		NewInfoCmd(),
	)
	return cmd
}

// env is what every command starts from.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	asJSON bool
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Store.DataDir = dir
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return &env{cfg: cfg, logger: logger, asJSON: asJSON}, nil
}

// openedStore is a store plus what closing it takes.
type openedStore struct {
	persist.Store
	close func() error

	// compact snapshots the embedded engine; nil for sqlite.
	compact func() error

	// location is the database file or data directory.
	location string
}

func (e *env) openStore() (*openedStore, error) {
	switch e.cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlstore.Open(e.cfg.SQLitePath(), e.logger)
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: s, close: s.Close, location: s.Path()}, nil
	case config.BackendEngine:
		eng, err := engine.Open(e.cfg.EngineOptions(e.logger))
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: eng, close: eng.Close, compact: eng.SaveSnapshot, location: e.cfg.Store.DataDir}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", e.cfg.Store.Backend)
}

func (s *openedStore) Close() error {
	return s.close()
}

// closeStore closes c and joins its error into *err.
func closeStore(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil {
		*err = errors.Join(*err, fmt.Errorf("close store: %w", cerr))
	}
}

// loadHandle opens the graph recorded by the descriptor file.
func (e *env) loadHandle(cmd *cobra.Command, s persist.Store) (*persist.Handle[string], error) {
	desc, err := persist.ReadDescriptorFile(e.cfg.DescriptorFile())
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("no index at %s, run build first: %w", e.cfg.DescriptorFile(), err)
	}
	if err != nil {
		return nil, err
	}
	return persist.Load(cmd.Context(), s, desc, persist.StringSubjects,
		persist.WithLogger(e.logger),
		persist.WithCacheSize(e.cfg.Store.CacheSize))
}
