package storage

import (
	"time"

	"github.com/rs/zerolog"
)

type StorageOption func(*StorageEngine)

func WithDataDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.dataDir = dir
	}
}

// WithSnapshotFile sets the snapshot written by Close and by background saves
func WithSnapshotFile(filename string) StorageOption {
	return func(engine *StorageEngine) {
		engine.snapshotFile = filename
	}
}

func WithBackgroundSave(interval time.Duration) StorageOption {
	return func(engine *StorageEngine) {
		engine.backgroundSave = interval > 0
		engine.saveInterval = interval
	}
}

func WithLogger(logger zerolog.Logger) StorageOption {
	return func(engine *StorageEngine) {
		engine.logger = logger
	}
}
