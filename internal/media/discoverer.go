package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ErrCacheMiss is returned by a Cache that holds no entry for a key
var ErrCacheMiss = errors.New("descriptor not cached")

// Cache stores parsed descriptors keyed by file path and modification time
type Cache interface {
	GetDescriptor(ctx context.Context, key string) (*Info, error)
	SetDescriptor(ctx context.Context, key string, info *Info) error
}

// DiscoverOptions controls how an uncharted asset is introspected
type DiscoverOptions struct {
	// Full includes per-frame information
	Full    bool
	Push    bool
	Skipped bool
}

// Discoverer loads descriptor files and runs the media-check tool on
// assets that have none.
type Discoverer struct {
	command string
	cache   Cache
	logger  *logging.Logger
}

// NewDiscoverer creates a discoverer running command for introspection.
// cache may be nil.
func NewDiscoverer(command string, cache Cache, logger *logging.Logger) *Discoverer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Discoverer{command: command, cache: cache, logger: logger}
}

// Load reads an existing descriptor file, going through the cache when configured
func (d *Discoverer) Load(ctx context.Context, path string) (*Descriptor, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat descriptor: %w", err)
	}
	key := fmt.Sprintf("%s@%d", path, st.ModTime().UnixNano())

	if d.cache != nil {
		info, err := d.cache.GetDescriptor(ctx, key)
		if err == nil {
			info.InfoPath = path
			return New(*info), nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			d.logger.WithError(err).Warn("Descriptor cache lookup failed")
		}
	}

	desc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		info := desc.Info()
		if err := d.cache.SetDescriptor(ctx, key, &info); err != nil {
			d.logger.WithError(err).Warn("Failed to cache descriptor")
		}
	}

	return desc, nil
}

// InfoPathFor returns the descriptor path the tool writes for uri
func InfoPathFor(uri string, opts DiscoverOptions) (string, error) {
	mediaPath, err := URIToPath(uri)
	if err != nil {
		return "", err
	}

	ext := models.MediaInfoExt
	switch {
	case opts.Skipped:
		ext = models.SkippedMediaInfoExt
	case opts.Push:
		ext = models.PushMediaInfoExt
	}
	return mediaPath + "." + ext, nil
}

// Discover introspects uri with the media-check tool and loads the result
func (d *Discoverer) Discover(ctx context.Context, uri string, opts DiscoverOptions) (*Descriptor, error) {
	outPath, err := InfoPathFor(uri, opts)
	if err != nil {
		return nil, err
	}

	args := []string{uri, "--output-file", outPath}
	if opts.Full {
		args = append(args, "--full")
	}

	cmd := exec.CommandContext(ctx, d.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.WithAsset(uri).Debugf("Generating media info %s", outPath)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v, stderr: %s", ErrNoDescriptor, uri, err, stderr.String())
	}

	return d.Load(ctx, outPath)
}

// URIToPath converts a file URI to a local path
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return "", fmt.Errorf("uri %q is not a local file", uri)
	}
	if u.Scheme == "" {
		return uri, nil
	}
	return u.Path, nil
}

// PathToURI converts a local path to a file URI
func PathToURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// IsInfoFile reports whether path is a descriptor document, and whether it is a skipped one
func IsInfoFile(path string) (ok bool, skipped bool) {
	for _, ext := range []string{models.MediaInfoExt, models.PushMediaInfoExt, models.StreamInfoExt} {
		if strings.HasSuffix(path, "."+ext) {
			return true, false
		}
	}
	if strings.HasSuffix(path, "."+models.SkippedMediaInfoExt) {
		return true, true
	}
	return false, false
}
