package manifest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/stepid"
)

// Entry is one declared step: its identity and the identities of its
// direct dependencies, in declaration order.
type Entry struct {
	Identity     stepid.Identity
	Dependencies []stepid.Identity
	Archived     bool
}

// fileRoot decodes the top-level blocks of a manifest file.
type fileRoot struct {
	Steps  []*stepBlock `hcl:"step,block"`
	Remain hcl.Body     `hcl:",remain"`
}

// stepBlock is the raw HCL shape of a single step declaration:
//
//	step "data://garden/energy/latest/mix" {
//	  depends_on = ["snapshot://energy/2024-01-15/mix.csv"]
//	}
type stepBlock struct {
	URI       string         `hcl:"uri,label"`
	DependsOn hcl.Expression `hcl:"depends_on,optional"`
	Archived  bool           `hcl:"archived,optional"`
	Remain    hcl.Body       `hcl:",remain"`
}

// Loader reads manifest files through an afs.Service, so manifests can
// live on any scheme afs supports.
type Loader struct {
	fs afs.Service
}

// NewLoader creates a manifest loader over the given file service.
func NewLoader(fs afs.Service) *Loader {
	return &Loader{fs: fs}
}

// Load parses every .hcl file at or under location and returns the
// declared entries sorted by identity URI. A location naming a single
// file loads just that file. Malformed URIs, duplicate declarations and
// unparseable HCL all fail fast.
func (l *Loader) Load(ctx context.Context, location string) ([]Entry, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.findManifestFiles(ctx, location)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files found at %s", location)
	}
	logger.Debug("Discovered manifest files.", "count", len(files))

	parser := hclparse.NewParser()
	seen := map[stepid.Identity]string{}
	var entries []Entry

	for _, file := range files {
		content, err := l.fs.DownloadWithURL(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest file %s: %w", file, err)
		}

		hclFile, diags := parser.ParseHCL(content, file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode manifest file %s: %w", file, diags)
		}

		for _, block := range root.Steps {
			entry, err := decodeStep(block)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if prev, dup := seen[entry.Identity]; dup {
				return nil, fmt.Errorf("step %s declared in both %s and %s", entry.Identity, prev, file)
			}
			seen[entry.Identity] = file
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity.Less(entries[j].Identity)
	})
	logger.Debug("Manifest loaded.", "steps", len(entries))
	return entries, nil
}

// decodeStep validates one step block and parses its URIs into typed
// identities.
func decodeStep(block *stepBlock) (Entry, error) {
	id, err := stepid.Parse(block.URI)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Identity: id, Archived: block.Archived}
	if block.DependsOn == nil {
		return entry, nil
	}

	val, diags := block.DependsOn.Value(nil)
	if diags.HasErrors() {
		return Entry{}, fmt.Errorf("step %s: failed to evaluate depends_on: %w", id, diags)
	}
	if val.IsNull() {
		return entry, nil
	}
	if !val.CanIterateElements() {
		return Entry{}, fmt.Errorf("step %s: depends_on must be a list of step URIs", id)
	}

	for _, v := range val.AsValueSlice() {
		if v.Type() != cty.String || v.IsNull() {
			return Entry{}, fmt.Errorf("step %s: depends_on entries must be strings", id)
		}
		dep, err := stepid.Parse(v.AsString())
		if err != nil {
			return Entry{}, fmt.Errorf("step %s: bad dependency: %w", id, err)
		}
		if dep == id {
			return Entry{}, fmt.Errorf("step %s depends on itself", id)
		}
		entry.Dependencies = append(entry.Dependencies, dep)
	}
	return entry, nil
}

// findManifestFiles resolves location to the sorted list of .hcl files it
// covers.
func (l *Loader) findManifestFiles(ctx context.Context, location string) ([]string, error) {
	ok, err := l.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest location %s: %w", location, err)
	}
	if !ok {
		return nil, fmt.Errorf("manifest location %s does not exist", location)
	}

	if strings.HasSuffix(location, ".hcl") {
		return []string{location}, nil
	}

	var files []string
	err = l.fs.Walk(ctx, location, func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".hcl") {
			name := info.Name()
			if parent != "" {
				name = path.Join(parent, name)
			}
			files = append(files, url.Join(baseURL, name))
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk manifest directory %s: %w", location, err)
	}
	sort.Strings(files)
	return files, nil
}
