// Package scriptrun executes a step's own source as a program. It is the
// default runner for the transformation kinds: the step's short-named
// script runs with its output directory and every dependency's output
// location handed over in the environment.
package scriptrun

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register binds the script runner to every transformation kind. Snapshot
// steps are not covered; they have no dependencies to transform.
func (m *Module) Register(r *registry.Registry) {
	runner := registry.RunnerFunc(run)
	for _, pattern := range []string{"data://", "data-private://", "grapher://", "grapher-private://"} {
		if err := r.RegisterURI(pattern, runner); err != nil {
			// The patterns above are literals; a parse failure is a bug.
			panic(err)
		}
	}
}

// run locates the step's executable, prepares its environment, and waits
// for it to finish. A non-zero exit is a step failure with the script's
// stderr attached.
func run(ctx context.Context, task *registry.Task) error {
	logger := ctxlog.FromContext(ctx)

	script, err := findScript(task.SourceDir, task.SourcePrefix)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to prepare output directory for %s: %w", task.Identity, err)
	}

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = task.SourceDir
	cmd.Env = append(os.Environ(), taskEnv(task)...)

	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr

	logger.Debug("Running step script.", "step", task.Identity, "script", script)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("script for %s failed: %w: %s", task.Identity, err, msg)
		}
		return fmt.Errorf("script for %s failed: %w", task.Identity, err)
	}
	return nil
}

// findScript resolves the step's executable inside its source directory.
// A file named exactly after the short name wins; otherwise any single
// short-name-prefixed file will do. Ambiguity is an error rather than a
// guess.
func findScript(dir, prefix string) (string, error) {
	exact := filepath.Join(dir, prefix)
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, prefix+".*"))
	if err != nil {
		return "", err
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	switch len(files) {
	case 0:
		return "", fmt.Errorf("no executable source named %s under %s", prefix, dir)
	case 1:
		return files[0], nil
	default:
		sort.Strings(files)
		return "", fmt.Errorf("ambiguous sources for %s under %s: %s", prefix, dir, strings.Join(files, ", "))
	}
}

// taskEnv builds the environment contract the scripts see: their own
// locations plus one DATAKILN_DEP_* variable per direct dependency,
// keyed by a sanitized form of the dependency URI.
func taskEnv(task *registry.Task) []string {
	env := []string{
		"DATAKILN_STEP=" + task.Identity.String(),
		"DATAKILN_OUTPUT_DIR=" + task.OutputDir,
		"DATAKILN_SOURCE_DIR=" + task.SourceDir,
	}

	uris := make([]string, 0, len(task.DependencyOutputs))
	for uri := range task.DependencyOutputs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	var deps []string
	for _, uri := range uris {
		env = append(env, "DATAKILN_DEP_"+envKey(uri)+"="+task.DependencyOutputs[uri])
		deps = append(deps, uri+"="+task.DependencyOutputs[uri])
	}
	// The full list goes in one variable too, so scripts can iterate
	// without knowing the sanitization rules.
	env = append(env, "DATAKILN_DEPS="+strings.Join(deps, "\n"))
	return env
}

// envKey maps a step URI onto the charset environment variable names
// allow.
func envKey(uri string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, uri)
	return strings.Trim(mapped, "_")
}
