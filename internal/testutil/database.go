package testutil

import (
	"context"
	"testing"

	"rustdist/internal/database"
	"rustdist/internal/model"
)

// NewTestStore creates an in-memory SQLite store with migrations applied.
// The store is closed automatically when the test completes.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()

	store, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// SeedReleases applies the given releases through the normal ingest path so
// tests exercise the same write code as production.
func SeedReleases(t *testing.T, store *database.Store, releases ...model.Release) {
	t.Helper()

	if _, err := store.ApplyIngest(context.Background(), releases); err != nil {
		t.Fatalf("failed to seed releases: %v", err)
	}
}

// StableRelease returns a representative stable release fixture.
func StableRelease() model.Release {
	return model.Release{
		Version:     "1.75.0",
		Channel:     "stable",
		ReleaseDate: "2023-12-21",
		Components: []model.Component{
			{
				Name:      "rustc",
				Version:   "1.75.0 (82e1608df 2023-12-21)",
				GitCommit: "82e1608dfa6e0b5569232559e3d385fea5a93112",
				Targets: []model.Target{
					{
						Name: "x86_64-unknown-linux-gnu",
						URL:  "https://static.rust-lang.org/dist/2023-12-21/rustc-1.75.0-x86_64-unknown-linux-gnu.tar.xz",
						Hash: "abc123",
					},
					{
						Name: "aarch64-apple-darwin",
						URL:  "https://static.rust-lang.org/dist/2023-12-21/rustc-1.75.0-aarch64-apple-darwin.tar.xz",
						Hash: "def456",
					},
				},
			},
			{
				Name:    "rust-std",
				Version: "1.75.0 (82e1608df 2023-12-21)",
				Targets: []model.Target{
					{
						Name: "x86_64-unknown-linux-gnu",
						URL:  "https://static.rust-lang.org/dist/2023-12-21/rust-std-1.75.0-x86_64-unknown-linux-gnu.tar.xz",
						Hash: "123abc",
					},
				},
			},
		},
		Artefacts: []model.Artefact{
			{
				Type: "source-code",
				URL:  "https://static.rust-lang.org/dist/2023-12-21/rustc-1.75.0-src.tar.xz",
				Hash: "fedcba",
			},
		},
	}
}

// BetaRelease returns a representative beta release fixture.
func BetaRelease() model.Release {
	return model.Release{
		Version:     "1.76.0-beta.3",
		Channel:     "beta",
		ReleaseDate: "2024-01-05",
		Components: []model.Component{
			{
				Name:    "rustc",
				Version: "1.76.0-beta.3 (a1b2c3d4e 2024-01-05)",
				Targets: []model.Target{
					{
						Name: "x86_64-unknown-linux-gnu",
						URL:  "https://static.rust-lang.org/dist/2024-01-05/rustc-1.76.0-beta.3-x86_64-unknown-linux-gnu.tar.xz",
						Hash: "beta111",
					},
				},
			},
		},
	}
}

// NightlyRelease returns a nightly release fixture for the given version,
// e.g. "1.77.0-nightly".
func NightlyRelease(ver string) model.Release {
	return model.Release{
		Version:     ver,
		Channel:     "nightly",
		ReleaseDate: "2024-01-10",
		Components: []model.Component{
			{
				Name:    "rustc",
				Version: ver,
				Targets: []model.Target{
					{
						Name: "x86_64-unknown-linux-gnu",
						URL:  "https://static.rust-lang.org/dist/2024-01-10/rustc-nightly-x86_64-unknown-linux-gnu.tar.xz",
						Hash: "nightly1",
					},
				},
			},
		},
	}
}
