package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-scope/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-scope/internal/config"
	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-scope/internal/core/services"
	"github.com/custodia-labs/sercha-scope/internal/worker"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config

	stopTracing = func() {}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "sercha-scope",
	Short:         "Scoped retrieval over a local document pool",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `sercha-scope serves per-turn document retrieval over a folder of
text, markdown and PDF files.

Each turn searches only the files it selected. A persistent whole-pool
index answers searches made without a scope.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()

		if !cmd.Flags().Changed("config") {
			configPath = getEnv("SERCHA_CONFIG", configPath)
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		if cfg.OTelEnabled {
			stop, err := setupTracing()
			if err != nil {
				return err
			}
			stopTracing = stop
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopTracing()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the whole-pool index from the document pool",
	Args:  cobra.NoArgs,
	RunE:  runRebuild,
}

var expandCmd = &cobra.Command{
	Use:   "expand <path>...",
	Short: "List the files a scope of files and folders selects",
	Long: `Resolve files and folders of the document pool into the sorted set of
files a turn with that scope would search. Folders are expanded recursively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExpand,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the document pool",
	Long: `Search the whole-pool index, or only the files selected with --scope.

With --scope the search runs as one isolated turn: credentials given with
--credential replace the ambient ones for that turn only.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files and folders of the document pool",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var (
	searchTopK        int
	searchScope       []string
	searchCredentials []string
	searchDocsOnly    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sercha.yaml", "Path to the YAML config file (or set SERCHA_CONFIG)")

	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of chunks to return (default from config)")
	searchCmd.Flags().StringSliceVarP(&searchScope, "scope", "s", nil, "Files or folders to search instead of the whole pool")
	searchCmd.Flags().StringArrayVar(&searchCredentials, "credential", nil, "Per-turn provider secret as provider=key")
	searchCmd.Flags().BoolVar(&searchDocsOnly, "documents-only", false, "Forbid tools that reach outside the pool")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Printf("sercha-scope %s starting", version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// ===== Pool watcher (optional) =====
	if cfg.Watch.Enabled {
		w, err := worker.NewPoolWatcher(worker.WatcherConfig{
			Root:        cfg.DocsDir,
			Extensions:  cfg.RAG.AllowedExtensions,
			Retrieval:   a.retrieval,
			AutoRebuild: cfg.Watch.AutoRebuild,
			Debounce:    cfg.Watch.Debounce,
		})
		if err != nil {
			return fmt.Errorf("create pool watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start pool watcher: %w", err)
		}
		defer w.Stop()
		log.Printf("Watching %s for changes (auto rebuild: %t)", cfg.DocsDir, cfg.Watch.AutoRebuild)
	}

	serverCfg := http.DefaultConfig()
	serverCfg.Port = cfg.Port
	serverCfg.Version = version
	serverCfg.CORSOrigins = cfg.CORSOrigins
	serverCfg.MaxUploadBytes = cfg.RAG.MaxFileBytes
	serverCfg.DefaultTopK = cfg.RAG.TopK

	server := http.NewServer(serverCfg, a.pool, a.retrieval, a.turns, a.memory, a.checks)
	return server.Start()
}

func runRebuild(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	status, err := a.retrieval.Rebuild(cmd.Context())
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), status.Message)
	fmt.Fprintf(cmd.OutOrStdout(), "Chunks: %d (%s) in %v\n", status.Chunks, status.Strategy, status.Took)
	return nil
}

func runExpand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	files, err := a.pool.Expand(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("expand: %w", err)
	}
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	creds, err := parseCredentials(searchCredentials)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Both paths run as a turn so --credential replaces the ambient keys
	// for the whole-pool search too.
	opts := driving.TurnOptions{
		Scope:         searchScope,
		Credentials:   creds,
		DocumentsOnly: searchDocsOnly,
	}
	tool := services.NewSearchDocumentsTool(a.turns, cfg.RAG.TopK)

	var chunks []string
	err = a.turns.Run(cmd.Context(), opts, func(turn *domain.TurnSession) error {
		if len(searchScope) > 0 {
			chunks = tool.Call(turn.Context(), args[0], searchTopK)
			return nil
		}
		result, err := a.retrieval.Search(turn.Context(), args[0], searchTopK)
		if err != nil {
			return err
		}
		chunks = result.Chunks
		return nil
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for i, c := range chunks {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "---")
		}
		fmt.Fprintln(cmd.OutOrStdout(), c)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	listing, err := a.pool.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list pool: %w", err)
	}
	for _, f := range listing.Folders {
		fmt.Fprintf(cmd.OutOrStdout(), "%s/\n", f.Path)
	}
	for _, f := range listing.Files {
		fmt.Fprintln(cmd.OutOrStdout(), f.Path)
	}
	return nil
}

// parseCredentials turns provider=key pairs into a credential set.
// No pairs means no set, so ambient credentials apply.
func parseCredentials(pairs []string) (*domain.CredentialSet, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	secrets := make(map[string]string, len(pairs))
	for i, p := range pairs {
		provider, key, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(provider) == "" {
			return nil, fmt.Errorf("credential #%d must be provider=key: %w", i+1, domain.ErrInvalidInput)
		}
		secrets[provider] = key
	}
	return domain.NewCredentialSet(secrets), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
