// Package database is the persistence layer shared by the ingestor and the
// HTTP server: a SQLite file holding releases, components, targets and
// artefacts. The ingestor is the sole writer and wraps each run in one
// transaction; all server-side reads are single queries.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rustdist/internal/database/migrations"
	"rustdist/internal/model"
	"rustdist/internal/version"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound reports that a requested release or component is absent.
// Callers must treat this differently from a storage failure: it is a 404,
// not a 503.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database file at path and configures the
// connection. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// this application relies on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite; the schema depends on
	// cascading deletes from releases down to targets.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// WAL lets the HTTP server keep reading while an ingest run writes.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// Migrate applies any pending schema migrations.
func (s *Store) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *Store) CheckMigrations() error {
	return migrations.Status(s.db)
}

// MigrationStatus reports the applied and latest available schema versions.
func (s *Store) MigrationStatus() (current uint, latest uint, err error) {
	return migrations.Versions(s.db)
}

// Path returns the database file path (or ":memory:").
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Query layer (read side)

// GetReleaseByVersion returns the release with the exact version string,
// hydrated with components, targets and artefacts.
func (s *Store) GetReleaseByVersion(ctx context.Context, ver string) (*model.Release, error) {
	rel, err := s.scanRelease(ctx, `
		SELECT version, channel, release_date, latest
		FROM releases WHERE version = ?`, ver)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rel)
}

// GetReleaseByChannel resolves a channel to its current "latest" release.
func (s *Store) GetReleaseByChannel(ctx context.Context, ch version.Channel) (*model.Release, error) {
	rel, err := s.scanRelease(ctx, `
		SELECT version, channel, release_date, latest
		FROM releases WHERE channel = ? AND latest = 1`, string(ch))
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rel)
}

// GetComponent looks up one component by name within the release identified
// by its exact version string. Channel aliases must be resolved by the
// caller first (via GetReleaseByChannel).
func (s *Store) GetComponent(ctx context.Context, name, releaseVersion string) (*model.Component, error) {
	var comp model.Component
	var id int64
	var gitCommit sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, git_commit
		FROM components
		WHERE release_version = ? AND name = ?`, releaseVersion, name,
	).Scan(&id, &comp.Name, &comp.Version, &gitCommit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying component: %w", err)
	}
	comp.GitCommit = gitCommit.String

	comp.Targets, err = s.targetsForComponent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

// ListReleases returns all releases, newest first, without components.
func (s *Store) ListReleases(ctx context.Context) ([]model.Release, error) {
	return s.listReleases(ctx, `
		SELECT version, channel, release_date, latest
		FROM releases
		ORDER BY release_date DESC, version DESC`)
}

// ListNamedChannels returns the releases currently holding a channel
// pointer (at most one per channel), without components.
func (s *Store) ListNamedChannels(ctx context.Context) ([]model.Release, error) {
	return s.listReleases(ctx, `
		SELECT version, channel, release_date, latest
		FROM releases
		WHERE latest = 1
		ORDER BY channel`)
}

func (s *Store) listReleases(ctx context.Context, query string) ([]model.Release, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close()

	var releases []model.Release
	for rows.Next() {
		var rel model.Release
		if err := rows.Scan(&rel.Version, &rel.Channel, &rel.ReleaseDate, &rel.Latest); err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		releases = append(releases, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	return releases, nil
}

func (s *Store) scanRelease(ctx context.Context, query string, arg string) (*model.Release, error) {
	var rel model.Release
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rel.Version, &rel.Channel, &rel.ReleaseDate, &rel.Latest,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying release: %w", err)
	}
	return &rel, nil
}

// hydrate attaches components (with targets) and artefacts to a release.
func (s *Store) hydrate(ctx context.Context, rel *model.Release) (*model.Release, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.version, c.git_commit, t.name, t.url, t.hash
		FROM components c
		LEFT JOIN targets t ON t.component_id = c.id
		WHERE c.release_version = ? AND c.release_channel = ?
		ORDER BY c.name, t.name`, rel.Version, rel.Channel)
	if err != nil {
		return nil, fmt.Errorf("querying components: %w", err)
	}
	defer rows.Close()

	var (
		components []model.Component
		lastID     int64 = -1
	)
	for rows.Next() {
		var (
			id                 int64
			name, compVersion  string
			gitCommit          sql.NullString
			tName, tURL, tHash sql.NullString
		)
		if err := rows.Scan(&id, &name, &compVersion, &gitCommit, &tName, &tURL, &tHash); err != nil {
			return nil, fmt.Errorf("scanning component row: %w", err)
		}

		if id != lastID {
			components = append(components, model.Component{
				Name:      name,
				Version:   compVersion,
				GitCommit: gitCommit.String,
			})
			lastID = id
		}
		if tName.Valid {
			last := &components[len(components)-1]
			last.Targets = append(last.Targets, model.Target{
				Name: tName.String,
				URL:  tURL.String,
				Hash: tHash.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying components: %w", err)
	}
	rel.Components = components

	rel.Artefacts, err = s.artefactsForRelease(ctx, rel.Version, rel.Channel)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *Store) targetsForComponent(ctx context.Context, componentID int64) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, url, hash
		FROM targets
		WHERE component_id = ?
		ORDER BY name`, componentID)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.Name, &t.URL, &t.Hash); err != nil {
			return nil, fmt.Errorf("scanning target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	return targets, nil
}

func (s *Store) artefactsForRelease(ctx context.Context, ver, channel string) ([]model.Artefact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, url, hash
		FROM artefacts
		WHERE release_version = ? AND release_channel = ?
		ORDER BY type, url`, ver, channel)
	if err != nil {
		return nil, fmt.Errorf("querying artefacts: %w", err)
	}
	defer rows.Close()

	var artefacts []model.Artefact
	for rows.Next() {
		var a model.Artefact
		if err := rows.Scan(&a.Type, &a.URL, &a.Hash); err != nil {
			return nil, fmt.Errorf("scanning artefact: %w", err)
		}
		artefacts = append(artefacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying artefacts: %w", err)
	}
	return artefacts, nil
}

// Ingest (write side)

// HashConflict records a target whose upstream hash no longer matches the
// stored one. Content-addressed records are immutable, so the stored row is
// kept and the conflict surfaced for audit.
type HashConflict struct {
	Component  string
	Version    string
	Target     string
	StoredHash string
	NewHash    string
}

// IngestResult summarizes what one ingest transaction changed.
type IngestResult struct {
	ReleasesInserted  int
	ReleasesUnchanged int
	ComponentsAdded   int
	TargetsAdded      int
	NightlyReplaced   string // version of the nightly release that was dropped, if any
	HashConflicts     []HashConflict
}

// ApplyIngest upserts the given releases and reassigns the per-channel
// "latest" pointers, all inside a single transaction. Each release in the
// input is taken to be the current head of its channel. Re-applying
// identical data is a no-op apart from the transaction itself.
func (s *Store) ApplyIngest(ctx context.Context, releases []model.Release) (*IngestResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res := &IngestResult{}

	for i := range releases {
		rel := &releases[i]
		if !version.ValidChannel(rel.Channel) {
			return nil, fmt.Errorf("release %s has unknown channel %q", rel.Version, rel.Channel)
		}
	}

	// A nightly with a new version replaces the stored nightly wholesale;
	// the cascade drops its components, targets and artefacts.
	for i := range releases {
		rel := &releases[i]
		if rel.Channel != string(version.ChannelNightly) {
			continue
		}
		var stored string
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM releases WHERE channel = 'nightly' AND latest = 1`,
		).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// No previous nightly.
		case err != nil:
			return nil, fmt.Errorf("querying stored nightly: %w", err)
		case stored != rel.Version:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM releases WHERE channel = 'nightly'`); err != nil {
				return nil, fmt.Errorf("dropping stale nightly %s: %w", stored, err)
			}
			res.NightlyReplaced = stored
		}
	}

	for i := range releases {
		if err := upsertRelease(ctx, tx, &releases[i], res); err != nil {
			return nil, err
		}
	}

	// Reassign channel pointers: clear first so the partial unique index
	// on (channel) WHERE latest = 1 never sees two holders.
	for i := range releases {
		rel := &releases[i]
		if _, err := tx.ExecContext(ctx,
			`UPDATE releases SET latest = 0 WHERE channel = ? AND version != ?`,
			rel.Channel, rel.Version); err != nil {
			return nil, fmt.Errorf("clearing %s pointer: %w", rel.Channel, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE releases SET latest = 1 WHERE channel = ? AND version = ?`,
			rel.Channel, rel.Version); err != nil {
			return nil, fmt.Errorf("setting %s pointer to %s: %w", rel.Channel, rel.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return res, nil
}

func upsertRelease(ctx context.Context, tx *sql.Tx, rel *model.Release, res *IngestResult) error {
	var existing string
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM releases WHERE version = ? AND channel = ?`,
		rel.Version, rel.Channel,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO releases (version, channel, release_date, latest) VALUES (?, ?, ?, 0)`,
			rel.Version, rel.Channel, rel.ReleaseDate); err != nil {
			return fmt.Errorf("inserting release %s/%s: %w", rel.Channel, rel.Version, err)
		}
		res.ReleasesInserted++
	case err != nil:
		return fmt.Errorf("querying release %s/%s: %w", rel.Channel, rel.Version, err)
	default:
		res.ReleasesUnchanged++
	}

	for i := range rel.Components {
		if err := upsertComponent(ctx, tx, rel, &rel.Components[i], res); err != nil {
			return err
		}
	}

	for _, a := range rel.Artefacts {
		// Natural key (release, type, url): absent rows are inserted,
		// existing ones left alone.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artefacts (release_version, release_channel, type, url, hash)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (release_version, release_channel, type, url) DO NOTHING`,
			rel.Version, rel.Channel, a.Type, a.URL, a.Hash)
		if err != nil {
			return fmt.Errorf("inserting artefact %s for %s: %w", a.Type, rel.Version, err)
		}
	}

	return nil
}

func upsertComponent(ctx context.Context, tx *sql.Tx, rel *model.Release, comp *model.Component, res *IngestResult) error {
	var componentID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM components WHERE release_version = ? AND release_channel = ? AND name = ?`,
		rel.Version, rel.Channel, comp.Name,
	).Scan(&componentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx, `
			INSERT INTO components (release_version, release_channel, name, version, git_commit)
			VALUES (?, ?, ?, ?, ?)`,
			rel.Version, rel.Channel, comp.Name, comp.Version, nullIfEmpty(comp.GitCommit))
		if err != nil {
			return fmt.Errorf("inserting component %s for %s: %w", comp.Name, rel.Version, err)
		}
		componentID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading component id: %w", err)
		}
		res.ComponentsAdded++
	case err != nil:
		return fmt.Errorf("querying component %s for %s: %w", comp.Name, rel.Version, err)
	}

	for _, t := range comp.Targets {
		var storedHash string
		err := tx.QueryRowContext(ctx,
			`SELECT hash FROM targets WHERE component_id = ? AND name = ?`,
			componentID, t.Name,
		).Scan(&storedHash)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO targets (component_id, name, url, hash) VALUES (?, ?, ?, ?)`,
				componentID, t.Name, t.URL, t.Hash); err != nil {
				return fmt.Errorf("inserting target %s for %s: %w", t.Name, comp.Name, err)
			}
			res.TargetsAdded++
		case err != nil:
			return fmt.Errorf("querying target %s for %s: %w", t.Name, comp.Name, err)
		case storedHash != t.Hash:
			// Immutable once recorded: keep the stored row, surface the
			// conflict for audit.
			res.HashConflicts = append(res.HashConflicts, HashConflict{
				Component:  comp.Name,
				Version:    rel.Version,
				Target:     t.Name,
				StoredHash: storedHash,
				NewHash:    t.Hash,
			})
		}
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
