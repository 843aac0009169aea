package draft

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/database"
)

// Open builds the Store selected by cfg.DraftBackend. The returned close
// function releases any connection the backend holds.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Store, func(), error) {
	switch cfg.DraftBackend {
	case config.DraftBackendMemory:
		return NewMemoryStore(), func() {}, nil

	case config.DraftBackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(rdb, cfg.DraftTTL, log), func() { _ = rdb.Close() }, nil

	default:
		s, err := NewFileStore(cfg.DraftDir, log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
