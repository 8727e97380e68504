// Package dist speaks the upstream distribution server's wire formats: the
// TOML channel manifests and the HTTPS endpoints they are fetched from.
package dist

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Manifest is a decoded channel manifest (rustup manifest-version 2).
// It enumerates every package in a release with per-target download URLs
// and content hashes.
type Manifest struct {
	ManifestVersion string              `toml:"manifest-version"`
	Date            string              `toml:"date"`
	Pkg             map[string]Package  `toml:"pkg"`
	Renames         map[string]Rename   `toml:"renames"`
	Profiles        map[string][]string `toml:"profiles"`
	Artifacts       map[string]Artifact `toml:"artifacts"`
}

// Package is one component entry under [pkg]. The version string carries a
// commit/date suffix, e.g. "1.75.0 (82e1608df 2023-12-21)".
type Package struct {
	Version       string            `toml:"version"`
	GitCommitHash string            `toml:"git_commit_hash"`
	Target        map[string]Target `toml:"target"`
}

// Target is a per-platform download. Upstream publishes both gzip and xz
// variants; xz is preferred when present.
type Target struct {
	Available bool   `toml:"available"`
	URL       string `toml:"url"`
	Hash      string `toml:"hash"`
	XZURL     string `toml:"xz_url"`
	XZHash    string `toml:"xz_hash"`
}

// PreferredDownload returns the xz URL and hash when both are present,
// falling back to the gzip pair. ok is false when neither pair is complete.
func (t Target) PreferredDownload() (url, hash string, ok bool) {
	if t.XZURL != "" && t.XZHash != "" {
		return t.XZURL, t.XZHash, true
	}
	if t.URL != "" && t.Hash != "" {
		return t.URL, t.Hash, true
	}
	return "", "", false
}

// Rename maps an old component name to its current one.
type Rename struct {
	To string `toml:"to"`
}

// Artifact is a release-level download group under [artifacts], keyed by
// kind ("installer-msi", "source-code", ...) then by target triple.
type Artifact struct {
	Target map[string][]ArtifactFile `toml:"target"`
}

// ArtifactFile is one downloadable file of an artifact.
type ArtifactFile struct {
	URL        string `toml:"url"`
	HashSHA256 string `toml:"hash-sha256"`
}

// ParseManifest decodes a channel manifest document. A document that fails
// to decode, or that lacks the fields every manifest must have (date and a
// rustc package), is rejected as a whole; callers must not persist
// anything from it.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Date == "" {
		return nil, fmt.Errorf("manifest has no date field")
	}
	if _, ok := m.Pkg["rustc"]; !ok {
		return nil, fmt.Errorf("manifest has no pkg.rustc entry")
	}
	return &m, nil
}
