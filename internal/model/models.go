package model

// Release represents one toolchain version on a release track.
// (Version, Channel) is the natural key; Latest marks the channel pointer,
// held by at most one release per channel at a time.
type Release struct {
	Version     string      `json:"version"`      // e.g. "1.75.0", "1.78.0-beta.1", "1.87.0-nightly"
	Channel     string      `json:"channel"`      // stable, beta or nightly
	ReleaseDate string      `json:"release_date"` // upstream manifest date, YYYY-MM-DD
	Latest      bool        `json:"latest"`       // current channel pointer
	Components  []Component `json:"components,omitempty"`
	Artefacts   []Artefact  `json:"artefacts,omitempty"`
}

// Component is a named toolchain piece within a release.
// Its version may differ from the release version for sub-crates.
type Component struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	GitCommit string   `json:"git_commit,omitempty"` // optional upstream commit hash
	Targets   []Target `json:"targets,omitempty"`
}

// Target is a platform-specific downloadable artifact of a component.
// The hash is content-addressed and immutable once recorded.
type Target struct {
	Name string `json:"name"` // target triple, e.g. "x86_64-unknown-linux-gnu"
	URL  string `json:"url"`
	Hash string `json:"hash"` // SHA-256 of the download
}

// Artefact is a standalone release-level download (installer or source
// tarball) rather than a per-component package.
type Artefact struct {
	Type string `json:"type"` // e.g. "installer-msi", "source-code"
	URL  string `json:"url"`
	Hash string `json:"hash"`
}
