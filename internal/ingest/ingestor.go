// Package ingest implements the fetch-parse-upsert pass over the upstream
// channel manifests. It is the sole writer to storage and runs as a batch
// job, not request-driven: one run fetches the stable, beta and nightly
// manifests, normalizes them, and applies everything in one transaction.
package ingest

import (
	"context"
	"fmt"

	"rustdist/internal/database"
	"rustdist/internal/dist"
	"rustdist/internal/model"
	"rustdist/internal/version"
)

// Logger is the minimal logging surface the ingestor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ManifestSource fetches channel manifests. *dist.Client satisfies this;
// tests substitute their own.
type ManifestSource interface {
	ChannelManifest(ctx context.Context, ch version.Channel) (*dist.Manifest, error)
}

// Ingestor drives one ingest run.
type Ingestor struct {
	source ManifestSource
	store  *database.Store
	log    Logger
}

// New creates an Ingestor. All dependencies are required.
func New(source ManifestSource, store *database.Store, log Logger) *Ingestor {
	return &Ingestor{source: source, store: store, log: log}
}

// Run fetches all channel manifests, converts them and upserts the result.
// Any fetch or whole-document parse failure aborts the run before anything
// is written; individual malformed entries are skipped and logged. Running
// twice against unchanged upstream data leaves storage unchanged.
func (ing *Ingestor) Run(ctx context.Context) (*database.IngestResult, error) {
	var releases []model.Release

	for _, ch := range version.Channels() {
		m, err := ing.source.ChannelManifest(ctx, ch)
		if err != nil {
			runCounter.WithLabelValues("fetch_error").Inc()
			return nil, fmt.Errorf("fetching %s manifest: %w", ch, err)
		}

		rel, err := ing.buildRelease(m, ch)
		if err != nil {
			runCounter.WithLabelValues("parse_error").Inc()
			return nil, fmt.Errorf("converting %s manifest: %w", ch, err)
		}

		ing.log.Info("parsed channel manifest",
			"channel", ch, "version", rel.Version, "date", rel.ReleaseDate,
			"components", len(rel.Components))
		releases = append(releases, *rel)
	}

	res, err := ing.store.ApplyIngest(ctx, releases)
	if err != nil {
		runCounter.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("applying ingest: %w", err)
	}

	for _, c := range res.HashConflicts {
		// Content-addressed rows are never overwritten; a changed hash for
		// the same target+version means a corrupted or re-released
		// manifest and needs operator attention.
		ing.log.Warn("hash conflict: stored target hash kept",
			"component", c.Component, "version", c.Version, "target", c.Target,
			"stored_hash", c.StoredHash, "upstream_hash", c.NewHash)
	}
	hashConflicts.Add(float64(len(res.HashConflicts)))
	releasesInserted.Add(float64(res.ReleasesInserted))
	targetsAdded.Add(float64(res.TargetsAdded))
	runCounter.WithLabelValues("ok").Inc()

	if res.NightlyReplaced != "" {
		ing.log.Info("replaced previous nightly", "version", res.NightlyReplaced)
	}
	ing.log.Info("ingest run complete",
		"releases_inserted", res.ReleasesInserted,
		"releases_unchanged", res.ReleasesUnchanged,
		"components_added", res.ComponentsAdded,
		"targets_added", res.TargetsAdded,
		"hash_conflicts", len(res.HashConflicts))

	return res, nil
}

// buildRelease normalizes one manifest into a release record. A manifest
// whose rustc version cannot be parsed, or that reports a version from a
// different track than the channel it was fetched for, is rejected whole.
// Components and targets with missing fields are skipped, not fatal.
func (ing *Ingestor) buildRelease(m *dist.Manifest, ch version.Channel) (*model.Release, error) {
	parsed := version.ParseRustc(m.Pkg["rustc"].Version)
	if parsed.Kind != version.KindRelease {
		return nil, fmt.Errorf("unparseable rustc version %q", m.Pkg["rustc"].Version)
	}
	if parsed.Channel != ch {
		return nil, fmt.Errorf("version %s belongs to %s, not %s", parsed.Version, parsed.Channel, ch)
	}

	rel := &model.Release{
		Version:     parsed.Version,
		Channel:     string(ch),
		ReleaseDate: m.Date,
	}

	for name, pkg := range m.Pkg {
		if pkg.Version == "" {
			ing.log.Warn("skipping component without version", "component", name, "release", rel.Version)
			entriesSkipped.Inc()
			continue
		}

		comp := model.Component{
			Name:      name,
			Version:   pkg.Version,
			GitCommit: pkg.GitCommitHash,
		}
		for triple, tgt := range pkg.Target {
			if !tgt.Available {
				continue
			}
			url, hash, ok := tgt.PreferredDownload()
			if !ok {
				ing.log.Warn("skipping target without url or hash",
					"component", name, "target", triple, "release", rel.Version)
				entriesSkipped.Inc()
				continue
			}
			comp.Targets = append(comp.Targets, model.Target{Name: triple, URL: url, Hash: hash})
		}

		if len(comp.Targets) == 0 {
			ing.log.Debug("skipping component with no usable targets",
				"component", name, "release", rel.Version)
			continue
		}
		rel.Components = append(rel.Components, comp)
	}

	for kind, art := range m.Artifacts {
		for triple, files := range art.Target {
			if len(files) == 0 {
				continue
			}
			// One file per target in practice; trailing entries are
			// duplicates of other compression formats.
			f := files[0]
			if f.URL == "" || f.HashSHA256 == "" {
				ing.log.Warn("skipping artefact without url or hash",
					"type", kind, "target", triple, "release", rel.Version)
				entriesSkipped.Inc()
				continue
			}
			rel.Artefacts = append(rel.Artefacts, model.Artefact{
				Type: kind,
				URL:  f.URL,
				Hash: f.HashSHA256,
			})
		}
	}

	return rel, nil
}
