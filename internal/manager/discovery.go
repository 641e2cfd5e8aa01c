package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/media"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/metrics"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// DefaultHTTPServerPort is the port local HTTP assets are declared with
const DefaultHTTPServerPort = 8079

const localHTTPPrefix = "http://127.0.0.1:8079/"

// candidate is one file or URI that may become an asset
type candidate struct {
	uri  string
	path string
}

// Assets returns the asset registry, discovering it on first use
func (m *Manager) Assets(ctx context.Context) ([]models.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assetsLocked(ctx)
}

func (m *Manager) assetsLocked(ctx context.Context) ([]models.Asset, error) {
	if m.assetsLoaded {
		return m.assets, nil
	}

	started := time.Now()
	candidates, err := m.candidates()
	if err != nil {
		return nil, err
	}

	// each slot keeps the assets of one candidate so discovery order survives the worker pool
	found := make([][]models.Asset, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.DiscoveryWorkers)
	for i, c := range candidates {
		g.Go(func() error {
			assets, err := m.discoverFile(gctx, c.uri, c.path)
			if err != nil {
				return err
			}
			found[i] = assets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byProtocol := make(map[string]int)
	for _, assets := range found {
		for _, a := range assets {
			m.assets = append(m.assets, a)
			byProtocol[a.Descriptor.Protocol().String()]++
		}
	}
	m.assetsLoaded = true

	metrics.UpdateAssetMetrics(byProtocol)
	metrics.RecordDiscovery(time.Since(started).Seconds())
	m.logger.Debugf("Found %d assets in %s", len(m.assets), time.Since(started))
	return m.assets, nil
}

// candidates lists explicit URIs, or every media file under the configured paths
func (m *Manager) candidates() ([]candidate, error) {
	if len(m.cfg.ValidateURIs) > 0 {
		out := make([]candidate, 0, len(m.cfg.ValidateURIs))
		for _, uri := range m.cfg.ValidateURIs {
			out = append(out, candidate{uri: uri, path: uri})
		}
		return out, nil
	}

	var out []candidate
	for _, root := range m.cfg.Paths {
		st, err := os.Stat(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				m.logger.Warnf("Media path %s does not exist", root)
				continue
			}
			return nil, fmt.Errorf("failed to stat media path: %w", err)
		}

		if !st.IsDir() {
			c, err := fileCandidate(root)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isMediaCandidate(path) {
				return nil
			}
			c, err := fileCandidate(path)
			if err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return out, nil
}

func fileCandidate(path string) (candidate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return candidate{}, err
	}
	uri, err := media.PathToURI(abs)
	if err != nil {
		return candidate{}, err
	}
	return candidate{uri: uri, path: abs}, nil
}

// isMediaCandidate skips descriptor documents and scenario files. Stream info
// files are kept: they describe remote streams.
func isMediaCandidate(path string) bool {
	if strings.HasSuffix(path, "."+scenario.FileExtension) {
		return false
	}
	if strings.HasSuffix(path, "."+models.StreamInfoExt) {
		return true
	}
	ok, _ := media.IsInfoFile(path)
	return !ok
}

// discoverFile returns the assets backed by fpath: its media_info descriptor,
// its push variant, or a freshly generated descriptor when asked for.
func (m *Manager) discoverFile(ctx context.Context, uri, fpath string) ([]models.Asset, error) {
	var assets []models.Asset

	variants := []struct {
		ext     string
		push    bool
		skipped bool
	}{
		{models.MediaInfoExt, false, false},
		{models.PushMediaInfoExt, true, false},
		{models.SkippedMediaInfoExt, false, true},
	}

	for _, v := range variants {
		infoPath := fpath + "." + v.ext
		st, statErr := os.Lstat(infoPath)
		exists := statErr == nil

		if (v.push || v.skipped) && !exists {
			continue
		}
		assetURI := uri
		if v.push {
			assetURI = "push" + uri
		}

		var (
			desc *media.Descriptor
			err  error
		)
		switch {
		case exists && !m.cfg.UpdateMediaInfo && !v.skipped:
			desc, err = m.discoverer.Load(ctx, infoPath)
		case strings.HasSuffix(fpath, "."+models.StreamInfoExt) && !v.skipped:
			desc, err = m.discoverer.Load(ctx, fpath)
			assetURI = ""
		case !m.cfg.GenerateInfo && !m.cfg.UpdateMediaInfo && len(m.cfg.ValidateURIs) == 0:
			continue
		case m.cfg.UpdateMediaInfo && !exists:
			m.logger.Infof("%s not present. Use --generate-media-info", infoPath)
			continue
		case exists && st.Mode()&os.ModeSymlink != 0:
			m.logger.Infof("%s is a symlink, not updating it", infoPath)
			continue
		default:
			desc, err = m.discoverer.Discover(ctx, uri, media.DiscoverOptions{
				Full:    m.cfg.UpdateMediaInfo || m.cfg.GenerateInfoFull,
				Push:    v.push,
				Skipped: v.skipped,
			})
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.logger.WithAsset(uri).WithError(err).Warn("Could not get any descriptor")
			metrics.RecordAssetRejected(rejectReason(err))
			continue
		}

		a, err := m.addMedia(desc, assetURI)
		if err != nil {
			m.logger.WithAsset(uri).WithError(err).Warn("Ignoring asset")
			metrics.RecordAssetRejected("invalid")
			continue
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func rejectReason(err error) string {
	if errors.Is(err, media.ErrNoDescriptor) {
		return "introspection"
	}
	return "descriptor"
}

// addMedia classifies a descriptor and pairs it with its special scenarios.
// An empty uri means the descriptor URI is used.
func (m *Manager) addMedia(desc *media.Descriptor, uri string) (models.Asset, error) {
	if uri == "" || desc.Protocol() == models.ProtocolImageSequence {
		uri = desc.URI()
	}

	if m.cfg.HTTPServerPort != DefaultHTTPServerPort && strings.HasPrefix(uri, localHTTPPrefix) {
		uri = fmt.Sprintf("http://127.0.0.1:%d/", m.cfg.HTTPServerPort) + strings.TrimPrefix(uri, localHTTPPrefix)
	}

	protocol := models.ProtocolFromURI(uri)
	if p, ok := models.ProtocolFromCaps(desc.Caps()); ok {
		protocol = p
	}
	if err := desc.Reclassify(protocol); err != nil {
		return models.Asset{}, err
	}

	special, err := m.scenarios.FindSpecial(desc.MediaFilePath())
	if err != nil {
		return models.Asset{}, fmt.Errorf("failed to look for special scenarios: %w", err)
	}

	a := models.Asset{
		URI:        uri,
		InfoPath:   desc.Path(),
		Descriptor: desc,
	}
	for _, s := range special {
		a.SpecialScenarios = append(a.SpecialScenarios, s)
	}
	return a, nil
}
