package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/expand"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/scenario"
)

// writeFile atomically replaces path with content, creating parent directories
func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file %s: %w", path, err)
	}
	defer pending.Cleanup()

	if _, err := pending.WriteString(content); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// configVars adds the per-test variables a config template may use
func configVars(vars expand.Vars, testName string) expand.Vars {
	out := vars.Clone()
	testDir := strings.ReplaceAll(testName, ".", string(os.PathSeparator))
	out["test_name"] = testName
	out["test_name_dir"] = testDir

	expectations, okExp := vars["validate-flow-expectations-dir"].(string)
	actual, okAct := vars["validate-flow-actual-results-dir"].(string)
	if okExp && okAct {
		out["validateflow"] = fmt.Sprintf(`validateflow, expectations-dir="%s", actual-results-dir="%s"`,
			filepath.Join(expectations, testDir), filepath.Join(actual, testDir))
	}

	if dir, ok := vars["ssim-results-dir"].(string); ok {
		out["ssim"] = fmt.Sprintf(`validatessim, result-output-dir="%s"`, filepath.Join(dir, testDir))
	} else if _, set := out["ssim"]; !set {
		out["ssim"] = "validatessim"
	}
	return out
}

// materializeConfig returns the config file for testName. Referenced files
// are used as is; inline lines are expanded and written under dir.
func materializeConfig(cfg ConfigRef, dir, testName string, vars expand.Vars) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}

	lines, err := expand.ExpandLines(cfg.Lines, configVars(vars, testName))
	if err != nil {
		return "", fmt.Errorf("config of %s: %w", testName, err)
	}

	path := filepath.Join(dir, testName+".config")
	if err := writeFile(path, strings.Join(lines, "\n")+"\n"); err != nil {
		return "", err
	}
	return path, nil
}

// materializeScenario writes inline scenario actions to dir/<name>.scenario
func materializeScenario(name string, actions []string, dir string, vars expand.Vars) (string, error) {
	lines, err := expand.ExpandLines(actions, vars)
	if err != nil {
		return "", fmt.Errorf("scenario %s: %w", name, err)
	}

	path := filepath.Join(dir, name+"."+scenario.FileExtension)
	if err := writeFile(path, strings.Join(lines, "\n")+"\n"); err != nil {
		return "", err
	}
	return path, nil
}
