package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-receipts-must-match/internal/classification"
	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/config"
	"github.com/Veraticus/the-receipts-must-match/internal/dedup"
	"github.com/Veraticus/the-receipts-must-match/internal/engine"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/htmlreceipt"
	"github.com/Veraticus/the-receipts-must-match/internal/ledger"
	"github.com/Veraticus/the-receipts-must-match/internal/llm"
	"github.com/Veraticus/the-receipts-must-match/internal/matching"
	"github.com/Veraticus/the-receipts-must-match/internal/merchant"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/storage"
	"github.com/Veraticus/the-receipts-must-match/internal/vision"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg        *config.Config
	store      *storage.SQLiteStorage
	normalizer *merchant.Normalizer
	classifier *classification.Classifier
	pipeline   *extraction.Pipeline
	engine     *engine.Engine
	closers    []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("Invalid configuration: "+err.Error(), err)
	}
	return cfg, nil
}

// initStorage opens and migrates the database.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newApp wires storage, the learning loops and the full pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}
	a.closers = append(a.closers, func() { _ = store.Close() })

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	table := merchant.DefaultChainTable()
	if cfg.Merchant.ChainsPath != "" {
		if err := table.LoadChains(cfg.Merchant.ChainsPath); err != nil {
			return err
		}
	}
	a.normalizer = merchant.NewNormalizer(table, merchant.Options{
		Store:          a.store,
		Corrections:    a.store,
		FuzzyThreshold: cfg.Merchant.FuzzyThreshold,
	})
	if err := a.normalizer.Load(ctx); err != nil {
		return err
	}

	rules := classification.DefaultRules()
	if cfg.Classifier.RulesPath != "" {
		custom, err := classification.LoadRules(cfg.Classifier.RulesPath)
		if err != nil {
			return err
		}
		rules = rules.Merge(custom)
	}
	classifier, err := classification.NewClassifier(rules, classification.Options{
		Normalizer:      a.normalizer,
		Store:           a.store,
		Corrections:     a.store,
		ReviewFloor:     cfg.Classifier.ReviewFloor,
		AmbiguityMargin: cfg.Classifier.AmbiguityMargin,
	})
	if err != nil {
		return err
	}
	if err := classifier.Load(ctx); err != nil {
		return err
	}
	a.classifier = classifier

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	cache := extraction.NewContentCache(cfg.Extraction.CacheMinConfidence, a.store, nil)
	breakers := extraction.NewBreakerSet(extraction.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	}, nil)
	a.pipeline = extraction.NewPipeline(providers, cache, breakers, extraction.Options{
		ProviderTimeout: cfg.Extraction.ProviderTimeout,
		PipelineTimeout: cfg.Extraction.PipelineTimeout,
	})

	var source ledger.Source = a.store
	if cfg.Ledger.PostgresDSN != "" {
		pg, err := ledger.NewPostgresSource(ctx, cfg.Ledger.PostgresDSN, nil)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		source = pg
	}

	a.engine, err = engine.New(engine.Components{
		Extractor:  a.pipeline,
		Store:      a.store,
		Ledger:     source,
		Normalizer: a.normalizer,
		Matcher: matching.NewResolver(matching.NewScorer(a.normalizer), matching.Thresholds{
			AutoMatch:       cfg.Matching.AutoMatchThreshold,
			Review:          cfg.Matching.ReviewThreshold,
			CollisionMargin: cfg.Matching.CollisionMargin,
			MaxAlternates:   cfg.Matching.MaxAlternates,
		}, nil),
		Detector: dedup.NewDetector(dedup.Thresholds{
			Acceptance:         cfg.Dedup.AcceptanceThreshold,
			MaxHammingDistance: cfg.Dedup.MaxHammingDistance,
			TextSimilarity:     cfg.Dedup.TextSimilarityMinimum,
		}, nil),
		Classifier: a.classifier,
	}, engine.Config{
		WindowDays:  cfg.Ledger.WindowDays,
		Concurrency: cfg.Extraction.Concurrency,
	})
	return err
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildProviders instantiates the configured providers in chain order.
// Providers without credentials are skipped with a log line.
func buildProviders(ctx context.Context, cfg *config.Config) ([]extraction.Provider, error) {
	var providers []extraction.Provider
	for _, name := range cfg.Extraction.Providers {
		switch strings.ToLower(name) {
		case "anthropic", "openai":
			key, modelName := cfg.LLM.AnthropicKey, cfg.LLM.AnthropicModel
			if strings.EqualFold(name, "openai") {
				key, modelName = cfg.LLM.OpenAIKey, cfg.LLM.OpenAIModel
			}
			if key == "" {
				slog.Debug("Skipping provider without API key", "provider", name)
				continue
			}
			p, err := llm.NewProvider(llm.Config{
				Provider:  name,
				APIKey:    key,
				Model:     modelName,
				RateLimit: cfg.LLM.RateLimit,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "vision":
			if !cfg.Vision.Enabled() {
				slog.Debug("Skipping provider without credentials", "provider", name)
				continue
			}
			p, err := vision.NewProvider(ctx, cfg.Vision)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "html":
			providers = append(providers, htmlreceipt.NewProvider())
		case "text":
			providers = append(providers, extraction.NewTextProvider())
		default:
			return nil, fmt.Errorf("%w: unknown extraction provider %q", common.ErrInvalidConfig, name)
		}
	}
	if len(providers) == 0 {
		return nil, common.NewUserError("No extraction providers are available. Configure an API key or enable the html/text providers.",
			fmt.Errorf("%w: extraction.providers", common.ErrMissingConfig))
	}
	return providers, nil
}

// readDocument loads a file as an extraction document.
func readDocument(path string) (extraction.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 user-supplied receipt path
	if err != nil {
		return extraction.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return extraction.Document{
		Name:        name,
		ContentType: extraction.DetectContentType(name, data),
		Data:        data,
	}, nil
}

// collectFiles expands globs and walks directories. Hidden files are skipped.
func collectFiles(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] && !strings.HasPrefix(filepath.Base(path), ".") {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("No files found matching pattern", "pattern", pattern)
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(match)
				continue
			}
			err = filepath.WalkDir(match, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if path != match && strings.HasPrefix(d.Name(), ".") {
						return filepath.SkipDir
					}
					return nil
				}
				add(path)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to walk %s: %w", match, err)
			}
		}
	}
	return files, nil
}

// classificationFile is the on-disk form of calendar and contact context.
type classificationFile struct {
	Calendar []struct {
		Date         model.Date `yaml:"date"`
		Title        string     `yaml:"title"`
		BusinessType string     `yaml:"business_type"`
	} `yaml:"calendar"`
	Contacts []struct {
		Name         string `yaml:"name"`
		Domain       string `yaml:"domain"`
		BusinessType string `yaml:"business_type"`
	} `yaml:"contacts"`
}

// loadClassificationContext builds the context from flags and an optional YAML file.
func loadClassificationContext(senderDomain, path string) (model.ClassificationContext, error) {
	cctx := model.ClassificationContext{SenderDomain: senderDomain}
	if path == "" {
		return cctx, nil
	}

	data, err := os.ReadFile(config.ExpandPath(path)) // #nosec G304
	if err != nil {
		return cctx, fmt.Errorf("failed to read context file: %w", err)
	}
	var file classificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cctx, fmt.Errorf("failed to parse context file: %w", err)
	}
	for _, e := range file.Calendar {
		cctx.CalendarEvents = append(cctx.CalendarEvents, model.CalendarEvent{Date: e.Date, Title: e.Title, BusinessType: e.BusinessType})
	}
	for _, c := range file.Contacts {
		cctx.Contacts = append(cctx.Contacts, model.Contact{Name: c.Name, Domain: c.Domain, BusinessType: c.BusinessType})
	}
	return cctx, nil
}
