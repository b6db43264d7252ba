// Package livepatch reads a workspace file, merges an update into it and
// writes the result back, recording what changed.
package livepatch

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/merge"
	"github.com/spigell/livepatch/internal/storage/store"
)

// DefaultTarget is the workspace file patched when the caller names none.
const DefaultTarget = "components/ScoreCard.tsx"

//go:embed default_update.txt
var defaultUpdate string

// ErrConflict is returned when the target changed between Plan and Commit.
var ErrConflict = errors.New("target file changed since the merge was planned")

// DefaultUpdate returns the built-in update instructions.
func DefaultUpdate() string {
	return defaultUpdate
}

// Merger produces a merged document. *merge.Requestor satisfies it.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) merge.Result
}

// StateStore records the last applied patch.
type StateStore interface {
	UpsertSystemState(ctx context.Context, state store.SystemState) (store.SystemState, error)
}

// Plan is a merge that has been computed but not written yet.
type Plan struct {
	Target       string
	Path         string
	Mode         os.FileMode
	Original     string
	Instructions string
	merge.Result
}

// Applier applies updates to files under Root.
type Applier struct {
	Root          string
	DefaultTarget string
	Requestor     Merger
	Store         StateStore
	Sink          events.Sink
	Logger        *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string, requestor Merger, st StateStore, logger *zap.Logger, sink events.Sink) *Applier {
	return &Applier{
		Root:          root,
		DefaultTarget: DefaultTarget,
		Requestor:     requestor,
		Store:         st,
		Sink:          sink,
		Logger:        logger,
	}
}

// Apply plans and commits an update while holding the target's lock.
func (a *Applier) Apply(ctx context.Context, target, instructions string) (*Plan, error) {
	path, rel, err := a.resolve(target)
	if err != nil {
		return nil, err
	}

	lock := a.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	plan, err := a.plan(ctx, path, rel, instructions)
	if err != nil {
		return nil, err
	}
	if err := a.commit(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Plan reads the target and asks the requestor for a merged version.
// Nothing is written.
func (a *Applier) Plan(ctx context.Context, target, instructions string) (*Plan, error) {
	path, rel, err := a.resolve(target)
	if err != nil {
		return nil, err
	}
	return a.plan(ctx, path, rel, instructions)
}

// Commit writes a planned merge and records it. It fails with ErrConflict
// when the file no longer holds the content the plan was built from.
func (a *Applier) Commit(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return errors.New("nil plan")
	}

	lock := a.lockFor(plan.Path)
	lock.Lock()
	defer lock.Unlock()

	current, err := os.ReadFile(plan.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", plan.Target, err)
	}
	if string(current) != plan.Original {
		return ErrConflict
	}

	return a.commit(ctx, plan)
}

func (a *Applier) plan(ctx context.Context, path, rel, instructions string) (*Plan, error) {
	if a.Requestor == nil {
		return nil, errors.New("merge requestor is not configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", rel)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	if strings.TrimSpace(instructions) == "" {
		instructions = defaultUpdate
	}

	a.logger().Info("planning update", zap.String("target", rel), zap.Int("original_bytes", len(original)))

	result := a.Requestor.Merge(ctx, merge.Request{
		TargetPath:   rel,
		Original:     string(original),
		Instructions: instructions,
	})

	return &Plan{
		Target:       rel,
		Path:         path,
		Mode:         info.Mode().Perm(),
		Original:     string(original),
		Instructions: instructions,
		Result:       result,
	}, nil
}

func (a *Applier) commit(ctx context.Context, plan *Plan) error {
	if err := writeFile(plan.Path, []byte(plan.Merged), plan.Mode); err != nil {
		a.sink().Emit(events.ComponentSystem, events.LevelError, "Failed to write "+plan.Target+": "+err.Error())
		return fmt.Errorf("write %s: %w", plan.Target, err)
	}

	level := events.LevelSuccess
	if plan.UsedFallback {
		level = events.LevelWarning
	}
	a.sink().Emit(events.ComponentSystem, level, "Updated "+plan.Target)
	a.logger().Info("update written",
		zap.String("target", plan.Target),
		zap.Bool("used_fallback", plan.UsedFallback),
		zap.Int("merged_bytes", len(plan.Merged)),
	)

	if a.Store == nil {
		return nil
	}

	if _, err := a.Store.UpsertSystemState(ctx, store.SystemState{
		LastPatch:  plan.DiffPreview,
		TargetFile: plan.Target,
	}); err != nil {
		return fmt.Errorf("record system state: %w", err)
	}

	return nil
}

func (a *Applier) resolve(target string) (string, string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		target = a.DefaultTarget
	}
	if target == "" {
		target = DefaultTarget
	}

	root := a.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve workspace root: %w", err)
	}

	path, err := securejoin.SecureJoin(root, target)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", target, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return "", "", fmt.Errorf("invalid target %q", target)
	}

	return path, filepath.ToSlash(rel), nil
}

func (a *Applier) lockFor(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := a.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[path] = lock
	}
	return lock
}

func (a *Applier) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *Applier) sink() events.Sink {
	return events.OrNop(a.Sink)
}

// writeFile replaces path atomically, keeping mode.
func writeFile(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
