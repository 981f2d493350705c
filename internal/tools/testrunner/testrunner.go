// Package testrunner implements the run_tests executor: framework
// auto-detection plus output parsing into a uniform result shape.
package testrunner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/forgehq/taskforge/internal/sandbox"
)

// Framework identifies a test runner.
type Framework string

const (
	FrameworkAuto     Framework = "auto"
	FrameworkPytest   Framework = "pytest"
	FrameworkUnittest Framework = "unittest"
	FrameworkCargo    Framework = "cargo"
	FrameworkNPM      Framework = "npm"
)

// Result is the uniform outcome of a test run.
type Result struct {
	Passed      bool   `json:"passed"`
	FailedCount int    `json:"failed_count"`
	ErrorCount  int    `json:"error_count"`
	Summary     string `json:"summary"`
	Output      string `json:"output"`
	Framework   string `json:"framework"`
}

// Detect picks a framework by scanning the workspace for manifest files, in
// the priority order the spec names: Cargo.toml, package.json with a test
// script, pytest markers, then a pytest default.
func Detect(root string) Framework {
	if fileExists(filepath.Join(root, "Cargo.toml")) {
		return FrameworkCargo
	}
	if hasNPMTestScript(filepath.Join(root, "package.json")) {
		return FrameworkNPM
	}
	if fileExists(filepath.Join(root, "pytest.ini")) ||
		pyprojectHasPytest(filepath.Join(root, "pyproject.toml")) ||
		setupCfgHasPytest(filepath.Join(root, "setup.cfg")) ||
		hasPytestStyleFiles(root) {
		return FrameworkPytest
	}
	return FrameworkPytest
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func hasNPMTestScript(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `"test"`) && strings.Contains(string(data), `"scripts"`)
}

func pyprojectHasPytest(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "[tool.pytest.ini_options]")
}

func setupCfgHasPytest(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "[tool:pytest]")
}

func hasPytestStyleFiles(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || found || d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py") {
			found = true
		}
		if strings.HasSuffix(name, "_test.py") {
			found = true
		}
		return nil
	})
	return found
}

// commandFor returns the canonical test invocation for a framework.
func commandFor(fw Framework, path string) []string {
	switch fw {
	case FrameworkCargo:
		return []string{"cargo", "test"}
	case FrameworkNPM:
		return []string{"npm", "test"}
	case FrameworkUnittest:
		return []string{"python3", "-m", "unittest", "discover", path}
	default:
		return []string{"pytest", path}
	}
}

// Run auto-detects (or honours an explicit) framework, runs its canonical
// command, and parses the output into a Result.
func Run(ctx context.Context, p *sandbox.Policy, fw Framework, path string, timeout time.Duration) (Result, error) {
	if fw == "" || fw == FrameworkAuto {
		fw = Detect(p.Root)
	}
	if path == "" {
		path = "."
	}
	cmdResult, err := p.RunCmd(ctx, commandFor(fw, path), timeout)
	if err != nil {
		return Result{}, err
	}
	result := parseOutput(fw, cmdResult.Stdout+"\n"+cmdResult.Stderr)
	result.Framework = string(fw)
	if cmdResult.ReturnCode != 0 && result.FailedCount == 0 && result.ErrorCount == 0 {
		result.Passed = false
		result.ErrorCount = 1
		if result.Summary == "" {
			result.Summary = "non-zero exit with no parseable failures"
		}
	}
	return result, nil
}

var (
	pytestSummaryRe = regexp.MustCompile(`(\d+)\s+(passed|failed|error(?:s|red)?)`)
	cargoResultRe   = regexp.MustCompile(`test result:.*?(\d+)\s+passed.*?(\d+)\s+failed`)
	npmFailRe       = regexp.MustCompile(`(\d+)\s+failing`)
	npmPassRe       = regexp.MustCompile(`(\d+)\s+passing`)
)

func parseOutput(fw Framework, output string) Result {
	switch fw {
	case FrameworkCargo:
		return parseCargo(output)
	case FrameworkNPM:
		return parseNPM(output)
	default:
		return parsePytestLike(output)
	}
}

func parsePytestLike(output string) Result {
	result := Result{Output: output, Passed: true}
	matches := pytestSummaryRe.FindAllStringSubmatch(output, -1)
	for _, m := range matches {
		n, _ := strconv.Atoi(m[1])
		switch {
		case strings.HasPrefix(m[2], "failed"):
			result.FailedCount = n
		case strings.HasPrefix(m[2], "error"):
			result.ErrorCount = n
		}
	}
	if result.FailedCount > 0 || result.ErrorCount > 0 {
		result.Passed = false
	}
	result.Summary = summaryLine(output)
	return result
}

func parseCargo(output string) Result {
	result := Result{Output: output, Passed: true}
	if m := cargoResultRe.FindStringSubmatch(output); m != nil {
		failed, _ := strconv.Atoi(m[2])
		result.FailedCount = failed
		result.Passed = failed == 0
	}
	result.Summary = summaryLine(output)
	return result
}

func parseNPM(output string) Result {
	result := Result{Output: output, Passed: true}
	if m := npmFailRe.FindStringSubmatch(output); m != nil {
		n, _ := strconv.Atoi(m[1])
		result.FailedCount = n
		result.Passed = n == 0
	} else if npmPassRe.MatchString(output) {
		result.Passed = true
	}
	result.Summary = summaryLine(output)
	return result
}

// summaryLine returns the last non-blank line of output, a reasonable
// one-line summary for most test runner output formats.
func summaryLine(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	var last string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			last = line
		}
	}
	return last
}
