package dataset

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sales-dashboard/internal/models"
)

const cacheVersion = "v1"

type snapshot struct {
	Records   []models.SalesRecord
	Malformed int
	Strict    bool
	SourceMod time.Time
}

func (l *Loader) cacheFilename() string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(l.path)
	return filepath.Join(l.cacheDir, fmt.Sprintf("%s_%s.gob", name, cacheVersion))
}

func (l *Loader) saveToCache(p parsed, sourceMod time.Time) error {
	if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
		return err
	}

	// Write then rename so a concurrent reader never sees a partial file.
	tmp, err := os.CreateTemp(l.cacheDir, "snapshot-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	encoder := gob.NewEncoder(tmp)
	err = encoder.Encode(snapshot{
		Records:   p.records,
		Malformed: p.malformed,
		Strict:    l.strict,
		SourceMod: sourceMod,
	})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), l.cacheFilename())
}

func (l *Loader) loadFromCache(sourceMod time.Time) (*snapshot, error) {
	file, err := os.Open(l.cacheFilename())
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var data snapshot
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&data); err != nil {
		return nil, err
	}

	if !data.SourceMod.Equal(sourceMod) {
		return nil, fmt.Errorf("cache is stale")
	}
	// A permissive snapshot with malformed fields must not satisfy a strict load.
	if l.strict && !data.Strict && data.Malformed > 0 {
		return nil, fmt.Errorf("cache was built in permissive mode")
	}

	return &data, nil
}
