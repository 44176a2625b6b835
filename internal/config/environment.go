package config

import (
	"os"
	"strings"
)

// SnapshotProcessEnv copies the process environment into a map. Config
// loading reads from the snapshot instead of os.Getenv so one load sees a
// single consistent view; callers may mutate the returned map freely.
func SnapshotProcessEnv() map[string]string {
	entries := os.Environ()
	env := make(map[string]string, len(entries))
	for _, kv := range entries {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
