package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// DefaultConcurrency is the number of batch jobs run in parallel when the
// configuration does not set one. Synthesis is CPU-heavy on the backend side,
// so the default stays small.
const DefaultConcurrency = 2

// Manifest is a batch job list loaded from YAML.
type Manifest struct {
	// Jobs are executed with a bounded worker pool. Order of completion is
	// not guaranteed.
	Jobs []Job `yaml:"jobs"`
}

// LoadManifest reads and validates a batch manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("batch: open manifest: %w", err)
	}
	defer f.Close()
	m, err := LoadManifestFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("batch: manifest %s: %w", path, err)
	}
	return m, nil
}

// LoadManifestFromReader decodes and validates a manifest. Unknown YAML keys
// are rejected so typos surface instead of silently dropping fields.
func LoadManifestFromReader(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate checks that every job carries the required fields. All problems
// are reported at once.
func (m *Manifest) validate() error {
	if len(m.Jobs) == 0 {
		return errors.New("no jobs defined")
	}
	var errs []error
	for i, job := range m.Jobs {
		if job.Text == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: text is required", i))
		}
		if job.Speaker == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: speaker is required", i))
		}
		if job.Output == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: output is required", i))
		}
	}
	return errors.Join(errs...)
}

// RunBatch executes every job in the manifest through the pipeline with at
// most concurrency jobs in flight. The first job error cancels the remaining
// jobs and is returned; jobs already running finish or fail on their own.
func (p *Pipeline) RunBatch(ctx context.Context, m *Manifest, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	slog.Info("starting batch", "jobs", len(m.Jobs), "concurrency", concurrency)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for i, job := range m.Jobs {
		eg.Go(func() error {
			if _, err := p.Run(egCtx, job); err != nil {
				return fmt.Errorf("batch: jobs[%d] (%s): %w", i, job.Output, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	slog.Info("batch complete", "jobs", len(m.Jobs))
	return nil
}
