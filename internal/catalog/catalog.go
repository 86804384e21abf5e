package catalog

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/stepid"
)

// recordFile is the name of the checksum record inside each step's
// output directory.
const recordFile = "index.yaml"

// Record is the metadata stamped next to a step's published output after
// a successful build. SourceChecksum holds the step's input digest; the
// field name follows the catalog file format, which predates the
// source/input digest distinction.
type Record struct {
	URI            string    `yaml:"uri"`
	SourceChecksum string    `yaml:"source_checksum"`
	BuiltAt        time.Time `yaml:"built_at"`
	Engine         string    `yaml:"engine,omitempty"`
}

// Catalog reads and writes step outputs under a single root. All IO goes
// through an afs.Service, so the root may live on any scheme afs
// supports.
type Catalog struct {
	fs     afs.Service
	root   string
	engine string
}

// New creates a catalog rooted at root. engine is a version string
// stamped into records for provenance; it may be empty.
func New(fs afs.Service, root, engine string) *Catalog {
	return &Catalog{fs: fs, root: root, engine: engine}
}

// OutputDir returns the step's output directory. It mirrors the source
// layout: private kinds share their base kind's directory.
func (c *Catalog) OutputDir(id stepid.Identity) string {
	parts := append([]string{id.Kind.Base()}, id.Path()...)
	return url.Join(c.root, path.Join(parts...))
}

// ReadRecord loads the persisted record for id. A missing record is not
// an error: it returns (nil, nil), meaning the step has never been
// built. A present but unreadable record is an error, since guessing
// would corrupt the staleness decision.
func (c *Catalog) ReadRecord(ctx context.Context, id stepid.Identity) (*Record, error) {
	location := url.Join(c.OutputDir(id), recordFile)
	ok, err := c.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to probe record for %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}

	content, err := c.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read record for %s: %w", id, err)
	}
	var record Record
	if err := yaml.Unmarshal(content, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record for %s: %w", id, err)
	}
	return &record, nil
}

// LoadChecksums reads every step's persisted checksum in one pass,
// returning a map with entries only for steps that have been built.
func (c *Catalog) LoadChecksums(ctx context.Context, ids []stepid.Identity) (map[stepid.Identity]string, error) {
	logger := ctxlog.FromContext(ctx)
	checksums := make(map[stepid.Identity]string)
	for _, id := range ids {
		record, err := c.ReadRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			checksums[id] = record.SourceChecksum
		}
	}
	logger.Debug("Catalog checksums loaded.", "steps", len(ids), "built", len(checksums))
	return checksums, nil
}

// WriteRecord stamps a fresh record into the step's output directory.
// The write touches only that step's own location, so concurrent writers
// for different steps never race.
func (c *Catalog) WriteRecord(ctx context.Context, id stepid.Identity, digest string) error {
	record := Record{
		URI:            id.String(),
		SourceChecksum: digest,
		BuiltAt:        time.Now().UTC(),
		Engine:         c.engine,
	}
	content, err := yaml.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", id, err)
	}
	location := url.Join(c.OutputDir(id), recordFile)
	if err := c.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", id, err)
	}
	return nil
}
