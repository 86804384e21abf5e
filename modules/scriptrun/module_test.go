package scriptrun

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/datakiln/internal/registry"
	"github.com/vk/datakiln/internal/stepid"
)

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTask(t *testing.T, sourceDir string) *registry.Task {
	t.Helper()
	return &registry.Task{
		Identity:     stepid.MustParse("data://main/core/2024-01-05/tidy"),
		SourceDir:    sourceDir,
		SourcePrefix: "tidy",
		OutputDir:    filepath.Join(t.TempDir(), "out"),
		DependencyOutputs: map[string]string{
			"snapshot://core/2024-01-05/raw": "/catalog/snapshot/core/2024-01-05/raw",
		},
	}
}

func TestRunExecutesScriptWithEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}

	sourceDir := t.TempDir()
	writeScript(t, sourceDir, "tidy.sh", `printf '%s' "$DATAKILN_STEP" > "$DATAKILN_OUTPUT_DIR/step.txt"
printf '%s' "$DATAKILN_DEP_SNAPSHOT___CORE_2024_01_05_RAW" > "$DATAKILN_OUTPUT_DIR/dep.txt"`)
	task := newTask(t, sourceDir)

	require.NoError(t, run(context.Background(), task))

	step, err := os.ReadFile(filepath.Join(task.OutputDir, "step.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data://main/core/2024-01-05/tidy", string(step))

	dep, err := os.ReadFile(filepath.Join(task.OutputDir, "dep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/catalog/snapshot/core/2024-01-05/raw", string(dep))
}

func TestRunReportsScriptFailureWithStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/sh")
	}

	sourceDir := t.TempDir()
	writeScript(t, sourceDir, "tidy.sh", `echo "input rows missing" >&2; exit 3`)
	task := newTask(t, sourceDir)

	err := run(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input rows missing")
}

func TestFindScript(t *testing.T) {
	testCases := []struct {
		name      string
		files     []string
		want      string
		expectErr string
	}{
		{
			name:  "exact name wins over extensions",
			files: []string{"tidy", "tidy.sh"},
			want:  "tidy",
		},
		{
			name:  "single prefixed file",
			files: []string{"tidy.py"},
			want:  "tidy.py",
		},
		{
			name:      "no source",
			files:     []string{"other.sh"},
			expectErr: "no executable source",
		},
		{
			name:      "ambiguous prefixed files",
			files:     []string{"tidy.sh", "tidy.py"},
			expectErr: "ambiguous sources",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tc.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("#!/bin/sh\n"), 0o755))
			}

			got, err := findScript(dir, "tidy")

			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tc.want), got)
		})
	}
}

func TestEnvKeySanitizesURIs(t *testing.T) {
	assert.Equal(t, "DATA___MAIN_CORE_LATEST_TIDY", envKey("data://main/core/latest/tidy"))
	assert.Equal(t, "SNAPSHOT___CORE_2024_01_05_RAW", envKey("snapshot://core/2024-01-05/raw"))
}

func TestRegisterCoversTransformationKinds(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)

	for _, uri := range []string{
		"data://main/core/latest/tidy",
		"data-private://main/core/latest/scratch",
		"grapher://main/core/latest/plot",
		"grapher-private://main/core/latest/draft",
	} {
		_, err := r.Resolve(stepid.MustParse(uri))
		assert.NoError(t, err, uri)
	}

	_, err := r.Resolve(stepid.MustParse("snapshot://core/latest/raw"))
	assert.Error(t, err, "snapshot steps are not script-run")
}
