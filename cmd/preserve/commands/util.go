package commands

import (
	"fmt"
	"os"

	"preserve/internal/config"
	"preserve/internal/logger"
	"preserve/pkg/backend"
	"preserve/pkg/backend/dial"
	"preserve/pkg/keystore"
)

// initLogger configures the package-level structured logger from cfg.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stdout",
	})
}

// openKeyStore reads and derives a KeyStore from cfg.Keyfile. Every
// subcommand but keygen requires one.
func openKeyStore(cfg *config.Config) (*keystore.KeyStore, error) {
	if cfg.Keyfile == "" {
		return nil, fmt.Errorf("no keyfile configured: pass --keyfile or set PRESERVE_KEYFILE")
	}
	f, err := os.Open(cfg.Keyfile)
	if err != nil {
		return nil, fmt.Errorf("open keyfile: %w", err)
	}
	defer f.Close()

	return keystore.Load(f)
}

// openBackend dials cfg.Backend into a concrete backend.Backend.
func openBackend(cfg *config.Config) (backend.Backend, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("no backend configured: pass --backend or set PRESERVE_BACKEND")
	}
	return dial.Backend(cfg.Backend)
}
