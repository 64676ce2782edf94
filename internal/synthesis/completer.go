package synthesis

import "context"

// Completer is the generative text backend. Failures are errors, never
// sentinel strings.
type Completer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
