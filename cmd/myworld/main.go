// Command myworld runs the entity resolution and indexing engine: an HTTP
// service plus one-shot ingest, classify and promote commands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KikDevKik/MyWorld-sub004/internal/config"
	"github.com/KikDevKik/MyWorld-sub004/internal/crystal"
	"github.com/KikDevKik/MyWorld-sub004/internal/extraction"
	"github.com/KikDevKik/MyWorld-sub004/internal/indexer"
	"github.com/KikDevKik/MyWorld-sub004/internal/llm"
	"github.com/KikDevKik/MyWorld-sub004/internal/logging"
	"github.com/KikDevKik/MyWorld-sub004/internal/pipeline"
	"github.com/KikDevKik/MyWorld-sub004/internal/registry"
	"github.com/KikDevKik/MyWorld-sub004/internal/server"
	"github.com/KikDevKik/MyWorld-sub004/internal/store"
	"github.com/KikDevKik/MyWorld-sub004/pkg/vector"
)

var verbose bool

type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  store.Storer
	vec    *vector.Index
	engine *pipeline.Engine
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(verbose || cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	st, err := store.NewSQLiteStoreWithDSN("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	fs := osfs.NewFS()
	absPath, err := filepath.Abs(cfg.VectorPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vector path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}
	vecPath, err := fs.FromOSPath(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vector path: %w", err)
	}
	vec, err := vector.NewIndex(fs, vecPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	var (
		extractor llm.Extractor
		embedder  llm.Embedder
	)
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewGenAIClient(ctx, cfg.GeminiAPIKey, cfg.ExtractModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize model client: %w", err)
		}
		extractor = client
		embedder = client
	} else {
		log.Warn("GEMINI_API_KEY not set, extraction and embeddings disabled")
	}

	ix := indexer.New(st, vec, embedder, log)
	var gen *extraction.Generator
	if extractor != nil {
		gen = extraction.NewGenerator(extractor, log)
	}
	w := registry.NewWriter(st, log)
	cr := crystal.New(st, ix, log)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		vec:    vec,
		engine: pipeline.NewEngine(st, ix, gen, w, cr, log),
	}, nil
}

func (a *app) close() {
	if err := a.vec.Save(); err != nil {
		a.log.Warn("failed to save vector index", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close store", zap.Error(err))
	}
	_ = a.log.Sync()
}

func main() {
	root := &cobra.Command{
		Use:   "myworld",
		Short: "Entity resolution and incremental indexing engine",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd(), ingestCmd(), classifyCmd(), promoteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			srv := &http.Server{
				Addr:    ":" + a.cfg.APIPort,
				Handler: server.New(a.engine, a.cfg.RootFolderID, a.log).Router(),
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.log.Info("listening", zap.String("port", a.cfg.APIPort))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
}

func ingestCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "ingest <path> <file>",
		Short: "Index one document from a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			res, err := a.engine.Ingest(cmd.Context(), indexer.IngestDoc{
				Path:     args[0],
				Category: category,
			}, string(content))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (created=%d deleted=%d)\n",
				res.Status, res.DocumentID, res.ChunksCreated, res.ChunksDeleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "canon", "document category (canon|reference)")
	return cmd
}

func classifyCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run the resolution pipeline over indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.ClassifyEntities(cmd.Context(), category)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d documents, %d candidates (anchor=%d limbo=%d ghost=%d), %d mention hits\n",
				res.Status, res.Documents, res.Stats.Total,
				res.Stats.Anchor, res.Stats.Limbo, res.Stats.Ghost, res.MentionHits)
			for _, f := range res.Failures {
				fmt.Printf("  failed: %s: %s\n", f.Name, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	return cmd
}

func promoteCmd() *cobra.Command {
	var rootFolder string
	cmd := &cobra.Command{
		Use:   "promote <entity-id>...",
		Short: "Crystallize entities into canonical documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			root := rootFolder
			if root == "" {
				root = a.cfg.RootFolderID
			}

			res, err := a.engine.PromoteAll(cmd.Context(), args, root)
			if err != nil {
				return err
			}
			for _, p := range res.Promoted {
				fmt.Printf("%s %s -> %s\n", p.Action, p.EntityID, p.Path)
			}
			for _, f := range res.Failures {
				fmt.Printf("failed: %s: %s\n", f.EntityID, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootFolder, "root", "", "target root folder id")
	return cmd
}
