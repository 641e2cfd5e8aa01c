package generator

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// MediaCheck checks that introspecting each asset still gives its recorded descriptor
type MediaCheck struct {
	Base
	command string
	timeout time.Duration
}

// NewMediaCheck creates the media_check generator
func NewMediaCheck(tools Tools, logger *logging.Logger) *MediaCheck {
	return &MediaCheck{
		Base:    NewBase("media_check", ScenarioFilter{Mode: NoScenario}, logger),
		command: tools.MediaCheck,
		timeout: models.DefaultTimeout,
	}
}

// Generate implements Generator
func (g *MediaCheck) Generate(ctx context.Context, assets []models.Asset, _ []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	var tests []*models.Test
	skipped := 0

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.Descriptor == nil || a.InfoPath == "" {
			g.skipAsset(a.URI, "no descriptor file to check against")
			skipped++
			continue
		}

		protocol := a.Descriptor.Protocol()
		t := &models.Test{
			Classname:  models.JoinClassname(string(protocol), g.name, uriBaseName(a.URI)),
			Kind:       models.TestKindMediaCheck,
			Generator:  g.name,
			Command:    g.command,
			Args:       []string{a.URI, "--expected-results", a.InfoPath},
			Timeout:    g.timeout,
			URI:        a.URI,
			Descriptor: a.Descriptor,
		}
		if a.Descriptor.SkipParsers() {
			t.Args = append(t.Args, "--skip-parsers")
		}
		tests = append(tests, t)
	}

	return g.finish(tests, skipped, started), nil
}

// uriBaseName returns the last path element of uri with dots replaced
func uriBaseName(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ReplaceAll(path.Base(p), ".", "_")
}
