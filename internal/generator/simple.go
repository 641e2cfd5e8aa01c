package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// TestFileExtension is the extension of self-contained validate test files
const TestFileExtension = ".validatetest"

// Simple runs the self-contained test files found under a directory
type Simple struct {
	Base
	dir     string
	command string
	mute    bool
	timeout time.Duration
}

// NewSimple creates a generator for the .validatetest files under dir
func NewSimple(name, dir string, tools Tools, mute bool, logger *logging.Logger) *Simple {
	if tools.Validate == "" {
		tools = DefaultTools()
	}
	return &Simple{
		Base:    NewBase(name, ScenarioFilter{Mode: NoScenario}, logger),
		dir:     dir,
		command: tools.Validate,
		mute:    mute,
		timeout: models.DefaultTimeout,
	}
}

// Generate implements Generator. Assets and scenarios are ignored.
func (g *Simple) Generate(ctx context.Context, _ []models.Asset, _ []models.Scenario) ([]*models.Test, error) {
	started := time.Now()
	if g.dir == "" {
		return nil, nil
	}

	files, err := g.testFiles()
	if err != nil {
		return nil, err
	}

	var tests []*models.Test
	skipped := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := scenario.LoadFile(path, "")
		if err != nil {
			g.logger.WithError(err).Warnf("Ignoring test file %s", path)
			skipped++
			continue
		}

		rel, err := filepath.Rel(g.dir, strings.TrimSuffix(path, TestFileExtension))
		if err != nil {
			return nil, fmt.Errorf("test file %s: %w", path, err)
		}

		t := &models.Test{
			Classname:       models.JoinClassname("test", strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")),
			Kind:            models.TestKindSimple,
			Generator:       g.name,
			Command:         g.command,
			Args:            []string{"--set-test-file", path},
			Timeout:         g.timeout,
			Duration:        models.TicksToDuration(info.Duration()),
			NeedsHTTPServer: info.NeedsHTTPServer(),
		}
		if g.mute {
			t.Args = append(t.Args, "--use-fakesinks")
		}
		tests = append(tests, t)
	}

	return g.finish(tests, skipped, started), nil
}

func (g *Simple) testFiles() ([]string, error) {
	dir, err := filepath.Abs(g.dir)
	if err != nil {
		return nil, err
	}
	g.dir = dir

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == TestFileExtension {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tests dir %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
