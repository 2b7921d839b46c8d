package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/suPer8Hu/ola-suite/internal/config"
	"github.com/suPer8Hu/ola-suite/internal/store"
	"github.com/suPer8Hu/ola-suite/internal/store/filestore"
	"github.com/suPer8Hu/ola-suite/internal/store/memstore"
	"github.com/suPer8Hu/ola-suite/internal/store/redisstore"
	"github.com/suPer8Hu/ola-suite/internal/store/sqlstore"
)

// openStore picks the session store backend. The returned close func may be nil.
func openStore(ctx context.Context, cfg config.Config, database func() (*gorm.DB, error)) (store.SessionStore, func() error, error) {
	switch cfg.SessionStore {
	case "memory":
		return memstore.New(), nil, nil

	case "file", "":
		s, err := filestore.New(cfg.SessionFile)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case "redis":
		s, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("redis session store: %w", err)
		}
		return s, s.Close, nil

	case "sql":
		gdb, err := database()
		if err != nil {
			return nil, nil, fmt.Errorf("sql session store: %w", err)
		}
		s, err := sqlstore.New(gdb)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown session store: %s", cfg.SessionStore)
}
