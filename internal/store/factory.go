package store

import (
	"fmt"

	"github.com/launchkit-dev/launchkit/internal/config"
)

// New opens the Store selected by cfg.Driver and brings its schema up to date.
func New(cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		s, err = NewPostgres(cfg.DSN)
	case "sqlite", "":
		s, err = NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}
