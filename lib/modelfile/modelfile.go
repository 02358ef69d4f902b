// Package modelfile persists fitted pipelines. A model file is a gob-encoded Model
// compressed with zstd. Save writes a temp file next to the target and renames it,
// so the target is either the old file or the complete new one.
package modelfile

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pkgz/fileutils"
	"github.com/klauspost/compress/zstd"

	"github.com/umputun/disaster-response/lib/pipeline"
	"github.com/umputun/disaster-response/lib/search"
)

// Version of the model file layout
const Version = 1

// temp files are created with 0600, the model is readable by others like any regular file
const fileMode = 0o644

// Model is a fitted pipeline with metadata of the run produced it
type Model struct {
	Version    int
	ID         string
	CreatedAt  time.Time
	Params     pipeline.Params
	BestScore  float64
	Candidates []search.Candidate
	Pipeline   *pipeline.Pipeline
}

// Categories returns names of the predicted categories, in output order
func (m *Model) Categories() []string {
	if m.Pipeline == nil {
		return nil
	}
	return m.Pipeline.Categories
}

// Predict delegates to the pipeline
func (m *Model) Predict(docs []string) ([][]int, error) {
	if m.Pipeline == nil {
		return nil, errors.New("model has no pipeline")
	}
	return m.Pipeline.Predict(docs)
}

// Save writes the model to path, replacing an existing file
func Save(path string, m *Model) (err error) {
	if m == nil || m.Pipeline == nil {
		return errors.New("nothing to save")
	}
	dir := filepath.Dir(path)
	if !fileutils.IsDir(dir) {
		return fmt.Errorf("directory %s doesn't exist", dir)
	}
	saved := *m
	if saved.Version == 0 {
		saved.Version = Version
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("can't create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("[WARN] can't remove %s: %v", tmp.Name(), rmErr)
			}
		}
	}()

	zw, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("can't make compressor: %w", err)
	}
	if err = gob.NewEncoder(zw).Encode(&saved); err != nil {
		_ = zw.Close()
		return fmt.Errorf("can't encode model: %w", err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("can't compress model: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("can't sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("can't set mode of %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("can't close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("can't rename %s to %s: %w", tmp.Name(), path, err)
	}
	log.Printf("[DEBUG] model %s saved to %s", m.ID, path)
	return nil
}

// Load reads a model written by Save
func Load(path string) (*Model, error) {
	if !fileutils.IsFile(path) {
		return nil, fmt.Errorf("model file %s not found", path)
	}
	fh, err := os.Open(path) //nolint:gosec // path from caller
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", path, err)
	}
	defer fh.Close()

	zr, err := zstd.NewReader(fh)
	if err != nil {
		return nil, fmt.Errorf("can't make decompressor: %w", err)
	}
	defer zr.Close()

	m := &Model{}
	if err := gob.NewDecoder(zr).Decode(m); err != nil {
		return nil, fmt.Errorf("can't decode model from %s: %w", path, err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported model version %d", m.Version)
	}
	if m.Pipeline == nil {
		return nil, fmt.Errorf("model in %s has no pipeline", path)
	}
	return m, nil
}
