package ai

import (
	"context"
)

// Generator produces a text response for a single prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}
