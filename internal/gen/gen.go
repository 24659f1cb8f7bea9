// Package gen produces candidate program text from a prompt. Two backends
// are provided: shelling out to a local CLI and calling the Gemini API
// directly. Both honor context cancellation and classify failures under
// ErrGeneration so the loop can tag them uniformly.
package gen

import (
	"context"
	"errors"
)

// ErrGeneration marks any failure to obtain a usable response, including
// timeouts and empty output.
var ErrGeneration = errors.New("generation failed")

// Generator turns a prompt into raw response text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
