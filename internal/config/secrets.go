package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, reads the secret from that file path.
// Otherwise falls back to the value of envName.
// Returns empty string if neither is set.
// Returns an error if the file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// ResolveSecrets fills credentials that never live in engine.yaml.
// PGPASSWORD (or PGPASSWORD_FILE) supplies the Postgres password and
// PGHOST overrides the configured host.
func (c *EngineConfig) ResolveSecrets() error {
	pw, err := ResolveSecret("PGPASSWORD")
	if err != nil {
		return err
	}
	c.Postgres.Password = pw
	if host := os.Getenv("PGHOST"); host != "" {
		c.Postgres.Host = host
	}
	if url := os.Getenv("MQTT_URL"); url != "" {
		c.MQTT.URL = url
	}
	return nil
}
