package manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/generator"
)

// LookPathFunc resolves a binary name to a path
type LookPathFunc func(file string) (string, error)

// resolveTool looks for name in the toolsPath directories first, then in PATH
func resolveTool(name, toolsPath string, look LookPathFunc) (string, error) {
	if toolsPath != "" {
		for _, dir := range filepath.SplitList(toolsPath) {
			candidate := filepath.Join(dir, name)
			st, err := os.Stat(candidate)
			if err == nil && st.Mode().IsRegular() && st.Mode()&0o111 != 0 {
				return candidate, nil
			}
		}
	}

	path, err := look(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return path, nil
}

// resolveTools resolves the required validation binaries. The RTSP server is
// optional: without it RTSP variants are not generated.
func (m *Manager) resolveTools() (generator.Tools, error) {
	names := generator.DefaultTools()
	var tools generator.Tools

	required := []struct {
		name string
		dst  *string
	}{
		{names.Transcoding, &tools.Transcoding},
		{names.Validate, &tools.Validate},
		{names.MediaCheck, &tools.MediaCheck},
	}
	for _, r := range required {
		path, err := resolveTool(r.name, m.cfg.ToolsPath, m.lookPath)
		if err != nil {
			return generator.Tools{}, err
		}
		*r.dst = path
	}

	if path, err := resolveTool(names.RTSPServer, m.cfg.ToolsPath, m.lookPath); err == nil {
		tools.RTSPServer = path
	} else {
		m.logger.Warnf("%s not found, RTSP tests will not be generated", names.RTSPServer)
	}

	return tools, nil
}
