// Command memoryd is the daemon entry point: it wires storage, the
// embedding port, the search engine, the conflict resolver, the
// maintenance sweep, and the JSON-RPC tool surface together, then serves
// requests over stdio. Subcommands are a cobra root with serve/stats/
// compact leaves; serve installs a signal.NotifyContext so the last sweep
// cycle and pending reinforcements still land before exit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kestrel-dev/agentmem/internal/conflict"
	"github.com/kestrel-dev/agentmem/internal/config"
	"github.com/kestrel-dev/agentmem/internal/embedding"
	"github.com/kestrel-dev/agentmem/internal/maintenance"
	"github.com/kestrel-dev/agentmem/internal/reinforce"
	"github.com/kestrel-dev/agentmem/internal/search"
	"github.com/kestrel-dev/agentmem/internal/storage"
	"github.com/kestrel-dev/agentmem/internal/toolsurface"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "memoryd",
		Short: "agentmem — an embedded agentic memory store",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		serveCmd(&configPath),
		statsCmd(&configPath),
		compactCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.LevelDB, error) {
	store, err := storage.OpenLevelDB(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func buildEmbedder(cfg *config.Config) embedding.Embedder {
	if !cfg.Embedding.Enabled {
		return embedding.Noop()
	}
	return embedding.New(embedding.Config{
		Provider: cfg.Embedding.Provider,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		Dims:     cfg.Embedding.Dimensions,
	})
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON-RPC tool protocol over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			embedder := buildEmbedder(cfg)
			queue := reinforce.New()

			engine := search.New(store, embedder, queue)
			engine.CandidateFactor = cfg.Search.MaxCandidateFactor

			resolver := conflict.NewResolver(store, embedder)
			resolver.DuplicateThreshold = cfg.Conflict.DuplicateThreshold
			resolver.SupersedeThreshold = cfg.Conflict.SupersedeThreshold
			resolver.CoexistThreshold = cfg.Conflict.CoexistThreshold
			resolver.SingularTags = cfg.Conflict.SingularTags

			server := toolsurface.New(engine, resolver, store, queue)
			server.Limits = cfg.Limits()
			server.WeakThreshold = cfg.Decay.WeakThreshold

			sweeper := maintenance.New(store, cfg.Decay.WeakThreshold)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); queue.Run(ctx, store) }()
			go func() { defer wg.Done(); sweeper.Run(ctx) }()

			log.Info().Str("storage_path", cfg.Storage.Path).Bool("embedding_enabled", embedder.IsAvailable()).Msg("memoryd serving on stdio")
			err = serveStdio(ctx, server)
			stop()
			wg.Wait()
			return err
		},
	}
}

// serveStdio reads newline-delimited JSON-RPC requests from stdin and
// writes newline-delimited responses to stdout until ctx is cancelled or
// stdin is closed.
func serveStdio(ctx context.Context, server *toolsurface.Server) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := server.Handle(ctx, append([]byte(nil), line...))
		out.Write(resp)
		out.WriteByte('\n')
		out.Flush()
	}
	return scanner.Err()
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate statistics about the memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(context.Background(), cfg.Decay.WeakThreshold, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("count=%d avg_strength=%.3f weak_count=%d bytes=%d\n", st.Count, st.AvgStrength, st.WeakCount, st.Bytes)
			return nil
		},
	}
}

func compactCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Compact the on-disk store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Compact(context.Background()); err != nil {
				return err
			}
			log.Info().Msg("compaction complete")
			return nil
		},
	}
}
