package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/ai/gemini"
	"github.com/spigell/livepatch/internal/ai/morph"
	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/freestyle"
	"github.com/spigell/livepatch/internal/livepatch"
	"github.com/spigell/livepatch/internal/logger"
	"github.com/spigell/livepatch/internal/merge"
	"github.com/spigell/livepatch/internal/scoring"
	"github.com/spigell/livepatch/internal/secrets"
	"github.com/spigell/livepatch/internal/storage/migrate"
	"github.com/spigell/livepatch/internal/storage/sqlite"
	"github.com/spigell/livepatch/internal/storage/store"
)

// runtime holds everything a command needs. Parts are built lazily so a
// command only pays for what it uses.
type runtime struct {
	config *Config
	logger *zap.Logger
	sink   events.Sink

	db   *sql.DB
	repo *store.Repository
}

func newRuntime() *runtime {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	return &runtime{
		config: config,
		logger: logger,
		sink:   events.NewZapSink(logger),
	}
}

func (r *runtime) close() {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("closing database", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

func (r *runtime) store() *store.Repository {
	if r.repo != nil {
		return r.repo
	}

	db, err := sqlite.Open(r.config.DB)
	if err != nil {
		r.logger.Fatal("opening database", zap.String("path", r.config.DB), zap.Error(err))
	}
	if err := migrate.Up(db); err != nil {
		r.logger.Fatal("migrating database", zap.Error(err))
	}

	r.db = db
	r.repo = store.NewRepository(db)
	return r.repo
}

func (r *runtime) mergeKey() string {
	key, err := secrets.Optional(secrets.Source{
		Name:  "merge api key",
		Value: r.config.Merge.APIKey,
		File:  r.config.Merge.APIKeyFile,
		Env:   "MORPH_API_KEY",
	})
	if err != nil {
		r.logger.Fatal("loading merge api key", zap.Error(err))
	}
	return key
}

func (r *runtime) scoringKey() string {
	key, err := secrets.Optional(secrets.Source{
		Name:  "gemini api key",
		Value: r.config.Scoring.APIKey,
		File:  r.config.Scoring.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		r.logger.Fatal("loading gemini api key", zap.Error(err))
	}
	return key
}

func (r *runtime) deployToken() string {
	token, err := secrets.Optional(secrets.Source{
		Name:  "freestyle token",
		Value: r.config.Deploy.Token,
		File:  r.config.Deploy.TokenFile,
		Env:   "FREESTYLE_TOKEN",
	})
	if err != nil {
		r.logger.Fatal("loading freestyle token", zap.Error(err))
	}
	return token
}

// requestor never fails to build: without a key every merge falls back.
func (r *runtime) requestor() *merge.Requestor {
	cfg := merge.Config{
		Timeout:       r.config.Merge.Timeout,
		MaxInputBytes: r.config.Merge.MaxInputBytes,
		MaxLogLength:  r.config.Merge.MaxLogLength,
	}

	key := r.mergeKey()
	if key == "" {
		r.logger.Warn("merge api key is not configured, updates will be appended as comments",
			zap.String("hint", "set MORPH_API_KEY or merge.api-key-file"))
		return merge.NewRequestor(nil, cfg, r.logger, r.sink)
	}

	client := morph.New(key, r.logger)
	if endpoint := strings.TrimSpace(r.config.Merge.Endpoint); endpoint != "" {
		client.Endpoint = endpoint
	}
	if model := strings.TrimSpace(r.config.Merge.Model); model != "" {
		client.Model = model
	}

	return merge.NewRequestor(client, cfg, r.logger, r.sink)
}

func (r *runtime) applier(withStore bool) *livepatch.Applier {
	var st livepatch.StateStore
	if withStore {
		st = r.store()
	}

	a := livepatch.New(r.config.Workspace, r.requestor(), st, r.logger, r.sink)
	if target := strings.TrimSpace(r.config.Target); target != "" {
		a.DefaultTarget = target
	}
	return a
}

func (r *runtime) scorer(ctx context.Context) (*scoring.Scorer, error) {
	key := r.scoringKey()
	if key == "" {
		return nil, fmt.Errorf("gemini api key is not configured (set GEMINI_API_KEY or scoring.api-key-file)")
	}

	generator, err := gemini.NewGenerator(ctx, key, r.config.Scoring.Model, r.config.Scoring.MaxRetries, r.logger)
	if err != nil {
		return nil, err
	}

	return scoring.NewScorer(generator, r.logger, r.sink, r.config.Scoring.MaxLogLength), nil
}

func (r *runtime) deployer() *freestyle.Client {
	client := freestyle.New(r.logger, r.deployToken(), r.config.Deploy.ProjectID)
	if url := strings.TrimSpace(r.config.Deploy.APIURL); url != "" {
		client.APIURL = strings.TrimRight(url, "/")
	}
	if branch := strings.TrimSpace(r.config.Deploy.Branch); branch != "" {
		client.Branch = branch
	}
	return client
}

// integrations reports which remote services have credentials.
func (r *runtime) integrations() map[string]bool {
	return map[string]bool{
		"morph":     r.mergeKey() != "",
		"gemini":    r.scoringKey() != "",
		"freestyle": r.deployer().Configured(),
	}
}
