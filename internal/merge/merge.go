// Package merge combines a source text with free-form update instructions
// through a remote merge model and always produces a usable result.
package merge

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/diffpreview"
	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/logger"
	"github.com/spigell/livepatch/internal/utils"
)

const (
	updateOpenTag  = "<update>"
	updateCloseTag = "</update>"

	// FallbackMarker heads the block appended by a fallback merge.
	FallbackMarker = "// MERGE PENDING: apply this update manually:"
	fallbackPrefix = "// "

	fallbackPreviewHeader = "+ Added update snippet as comment (API error)"
	fallbackPreviewRunes  = 100

	DefaultTimeout       = 5 * time.Second
	DefaultMaxInputBytes = 512 * 1024
	defaultMaxLogLength  = 200
)

// Fallback reasons reported in Result.FallbackReason.
const (
	ReasonRemoteError     = "remote_error"
	ReasonEmptyCompletion = "empty_completion"
	ReasonInputTooLarge   = "input_too_large"
	ReasonNoCompleter     = "no_completer"
)

// Completer sends a single prompt to the remote merge model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request describes one merge.
type Request struct {
	// TargetPath is only used for logging.
	TargetPath   string
	Original     string
	Instructions string
}

// Result is always a complete replacement candidate for Request.Original.
type Result struct {
	Merged         string
	DiffPreview    string
	UsedFallback   bool
	FallbackReason string
}

// Config tunes the requestor.
type Config struct {
	Timeout       time.Duration
	MaxInputBytes int
	MaxLogLength  int
}

// Requestor performs merges. It holds no per-merge state and is safe for
// concurrent use.
type Requestor struct {
	completer     Completer
	timeout       time.Duration
	maxInputBytes int
	maxLogLen     int
	logger        *zap.Logger
	sink          events.Sink
}

// NewRequestor creates a requestor. A nil completer makes every merge fall back.
func NewRequestor(completer Completer, cfg Config, log *zap.Logger, sink events.Sink) *Requestor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = DefaultMaxInputBytes
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}
	return &Requestor{
		completer:     completer,
		timeout:       cfg.Timeout,
		maxInputBytes: cfg.MaxInputBytes,
		maxLogLen:     cfg.MaxLogLength,
		logger:        logger.WithComponent(log, string(events.ComponentMerge)),
		sink:          events.OrNop(sink),
	}
}

// Merge asks the remote model for a merged text. It never fails: any remote
// problem yields the local fallback instead.
func (r *Requestor) Merge(ctx context.Context, req Request) Result {
	logger := r.logger.With(zap.String("target", req.TargetPath))

	if r.completer == nil {
		return r.fallback(logger, req, ReasonNoCompleter, nil)
	}

	if size := len(req.Original) + len(req.Instructions); size > r.maxInputBytes {
		logger.Warn("merge input exceeds size limit",
			zap.Int("size", size),
			zap.Int("limit", r.maxInputBytes),
		)
		return r.fallback(logger, req, ReasonInputTooLarge, nil)
	}

	prompt := Prompt(req.Original, req.Instructions)

	logger.Debug("merge request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("instructions_preview", utils.TruncateForLog(req.Instructions, r.maxLogLen)),
	)
	r.sink.Emit(events.ComponentMerge, events.LevelInfo, "Sending update to merge service: "+req.TargetPath)

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	merged, err := r.completer.Complete(callCtx, prompt)
	if err != nil {
		return r.fallback(logger, req, ReasonRemoteError, err)
	}
	if strings.TrimSpace(merged) == "" {
		return r.fallback(logger, req, ReasonEmptyCompletion, nil)
	}

	logger.Debug("merge response",
		zap.Int("response_length", utf8.RuneCountInString(merged)),
		zap.String("response_preview", utils.TruncateForLog(merged, r.maxLogLen)),
	)

	summary := diffpreview.Compare(req.Original, merged)
	logger.Info("merge applied",
		zap.Int("additions", summary.Added),
		zap.Int("deletions", summary.Removed),
	)
	r.sink.Emit(events.ComponentMerge, events.LevelSuccess, "Merged update: "+summary.Header())

	return Result{
		Merged:      merged,
		DiffPreview: summary.String(),
	}
}

func (r *Requestor) fallback(logger *zap.Logger, req Request, reason string, err error) Result {
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn("merge service unavailable, using fallback", fields...)
	r.sink.Emit(events.ComponentMerge, events.LevelWarning, "Merge service unavailable ("+reason+"), update appended as comment")

	return Result{
		Merged:         Fallback(req.Original, req.Instructions),
		DiffPreview:    FallbackPreview(req.Instructions),
		UsedFallback:   true,
		FallbackReason: reason,
	}
}

// Prompt places the instructions after the original text between update tags.
func Prompt(original, instructions string) string {
	var b strings.Builder
	b.Grow(len(original) + len(instructions) + len(updateOpenTag) + len(updateCloseTag) + 3)
	b.WriteString(original)
	b.WriteString("\n" + updateOpenTag + "\n")
	b.WriteString(instructions)
	b.WriteString("\n" + updateCloseTag)
	return b.String()
}

// Fallback appends the instructions to original as an inert comment block.
// The original text is left untouched as a prefix.
func Fallback(original, instructions string) string {
	lines := strings.Split(instructions, "\n")

	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\n")
	b.WriteString(FallbackMarker)
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(fallbackPrefix)
		b.WriteString(line)
	}
	return b.String()
}

// FallbackPreview is the fixed-shape preview reported for a fallback merge.
func FallbackPreview(instructions string) string {
	snippet := instructions
	if utf8.RuneCountInString(snippet) > fallbackPreviewRunes {
		snippet = string([]rune(snippet)[:fallbackPreviewRunes])
	}
	return fallbackPreviewHeader + "\n+ " + snippet + "..."
}
