package config

import "context"

// SecretProvider resolves secret references to plaintext values. The loader
// passes the values of every <NAME>_FILE variable as keys.
type SecretProvider interface {
	// GetParametersBatch returns key -> value for every key it could resolve.
	// Keys it cannot find are omitted; the loader reports them.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
