package interfaces

import "context"

// SecretSource resolves a named secret. The core needs nothing richer than
// get-by-name; caching sits in front of the source, not inside it.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}
