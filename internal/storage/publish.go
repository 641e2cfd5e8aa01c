package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// MaxConcurrentUploads bounds parallel uploads of the private dir
const MaxConcurrentUploads = 10

// ObjectStore is the subset of Storage used for publishing
type ObjectStore interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, objectName, filePath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	BatchDelete(ctx context.Context, keys []string) error
	Bucket() string
}

// Publication describes what a run published
type Publication struct {
	RunID       string `json:"run_id"`
	ManifestKey string `json:"manifest_key"`
	Objects     int    `json:"objects"`
}

// Publisher uploads generation runs: the JSON manifest and the materialized
// config and scenario files they reference.
type Publisher struct {
	store       ObjectStore
	prefix      string
	concurrency int
	logger      *logging.Logger
}

// NewPublisher creates a publisher storing runs under prefix
func NewPublisher(store ObjectStore, prefix string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		store:       store,
		prefix:      prefix,
		concurrency: MaxConcurrentUploads,
		logger:      logger,
	}
}

// RunPrefix returns the object prefix of a run
func (p *Publisher) RunPrefix(runID string) string {
	return path.Join(p.prefix, "runs", runID) + "/"
}

// ManifestKey returns the object name of a run manifest
func (p *Publisher) ManifestKey(runID string) string {
	return p.RunPrefix(runID) + "manifest.json"
}

// Publish uploads the manifest, then every file under privateDir. An empty
// privateDir only publishes the manifest.
func (p *Publisher) Publish(ctx context.Context, manifest *models.Manifest, privateDir string) (*Publication, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	key := p.ManifestKey(manifest.RunID)
	start := time.Now()
	err = p.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
	p.logger.LogStorageOperation("upload", p.store.Bucket(), key, int64(len(data)), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	pub := &Publication{RunID: manifest.RunID, ManifestKey: key, Objects: 1}
	if privateDir == "" {
		return pub, nil
	}

	files, err := collectFiles(privateDir)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rel := range files {
		objectName := p.RunPrefix(manifest.RunID) + "private/" + filepath.ToSlash(rel)
		local := filepath.Join(privateDir, rel)
		g.Go(func() error {
			if err := p.store.UploadFile(gctx, objectName, local); err != nil {
				return fmt.Errorf("%s: %w", rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pub.Objects += len(files)
	p.logger.WithRunID(manifest.RunID).Infof("Published %d objects", pub.Objects)
	return pub, nil
}

// Prune deletes everything a run published
func (p *Publisher) Prune(ctx context.Context, runID string) error {
	keys, err := p.store.List(ctx, p.RunPrefix(runID))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return p.store.BatchDelete(ctx, keys)
}

// collectFiles lists regular files under dir, relative to it, in walk order
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, nil
}
