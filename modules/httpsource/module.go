// Package httpsource materializes snapshot steps from the network. A
// snapshot's source is a sidecar file declaring a URL and the SHA-256 of
// the bytes it should serve; the runner fetches the URL, verifies the
// digest, and publishes the payload into the step's output directory.
package httpsource

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/registry"
)

// source is the sidecar file format. Filename is optional; it defaults
// to the last path element of the URL.
type source struct {
	URL      string `yaml:"url"`
	SHA256   string `yaml:"sha256"`
	Filename string `yaml:"filename,omitempty"`
}

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client overrides the default HTTP client, mainly for tests.
	Client *http.Client
}

// Register binds the snapshot fetcher to every snapshot step.
func (m *Module) Register(r *registry.Registry) {
	client := m.Client
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	f := &fetcher{fs: afs.New(), client: client}
	if err := r.RegisterURI("snapshot://", f); err != nil {
		// The pattern is a literal; a parse failure is a bug.
		panic(err)
	}
}

// fetcher is the snapshot runner.
type fetcher struct {
	fs     afs.Service
	client *http.Client
}

// Run implements registry.Runner.
func (f *fetcher) Run(ctx context.Context, task *registry.Task) error {
	logger := ctxlog.FromContext(ctx)

	src, err := f.loadSource(ctx, task)
	if err != nil {
		return err
	}

	logger.Debug("Fetching snapshot.", "step", task.Identity, "url", src.URL)
	payload, err := f.fetch(ctx, src.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s for %s: %w", src.URL, task.Identity, err)
	}

	digest := sha256.Sum256(payload)
	got := hex.EncodeToString(digest[:])
	if !strings.EqualFold(got, src.SHA256) {
		return fmt.Errorf("digest mismatch for %s: declared %s, fetched %s", task.Identity, src.SHA256, got)
	}

	name := src.Filename
	if name == "" {
		name = path.Base(src.URL)
	}
	target := url.Join(task.OutputDir, name)
	if err := f.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("failed to publish snapshot for %s: %w", task.Identity, err)
	}
	return nil
}

// loadSource reads and validates the step's sidecar. The sidecar is the
// file named exactly after the short name, or short name + ".yaml".
func (f *fetcher) loadSource(ctx context.Context, task *registry.Task) (*source, error) {
	var location string
	for _, candidate := range []string{task.SourcePrefix, task.SourcePrefix + ".yaml", task.SourcePrefix + ".yml"} {
		probe := url.Join(task.SourceDir, candidate)
		if ok, _ := f.fs.Exists(ctx, probe); ok {
			location = probe
			break
		}
	}
	if location == "" {
		return nil, fmt.Errorf("no snapshot sidecar named %s under %s", task.SourcePrefix, task.SourceDir)
	}

	content, err := f.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar for %s: %w", task.Identity, err)
	}
	var src source
	if err := yaml.Unmarshal(content, &src); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar for %s: %w", task.Identity, err)
	}
	if src.URL == "" {
		return nil, fmt.Errorf("sidecar for %s declares no url", task.Identity)
	}
	if src.SHA256 == "" {
		return nil, fmt.Errorf("sidecar for %s declares no sha256", task.Identity)
	}
	return &src, nil
}

// fetch downloads the payload. file:// and plain-path URLs are read
// directly, which keeps fixtures and air-gapped pipelines off the
// network.
func (f *fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if local, ok := localPath(rawURL); ok {
		return os.ReadFile(local)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// localPath reports whether rawURL names a local file and returns its
// filesystem path.
func localPath(rawURL string) (string, bool) {
	if after, ok := strings.CutPrefix(rawURL, "file://"); ok {
		return filepath.FromSlash(after), true
	}
	if !strings.Contains(rawURL, "://") {
		return rawURL, true
	}
	return "", false
}
