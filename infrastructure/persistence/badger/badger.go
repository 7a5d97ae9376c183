// Package badger stores conversation trees in an embedded BadgerDB.
package badger

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Config configures the embedded database
type Config struct {
	// Path is the data directory; ignored when InMemory is set
	Path string

	InMemory   bool
	SyncWrites bool

	// GCInterval runs value log GC periodically; zero disables it
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns settings for an on-disk store at path
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for a throwaway store
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// zapLogger routes badger's internal logging through zap
type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// DB wraps badger with its background value log GC
type DB struct {
	*badger.DB
	logger *zap.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens the database and starts GC when configured
func Open(cfg Config, logger *zap.Logger) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&zapLogger{logger: logger.Named("badger").Sugar()})

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: raw, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.stopCh = make(chan struct{})
		db.doneCh = make(chan struct{})
		go db.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return db, nil
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn("badger value log GC error", zap.Error(err))
			}
		}
	}
}

// Close stops GC and closes the database
func (d *DB) Close() error {
	if d.stopCh != nil {
		close(d.stopCh)
		<-d.doneCh
	}
	return d.DB.Close()
}
