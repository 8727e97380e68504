// Package version parses the version strings that appear in upstream
// manifests and in request paths. Both the ingestor and the HTTP server
// consume the same tagged result: a string is a concrete release version,
// a channel alias, or invalid.
package version

import (
	"strings"

	"github.com/Masterminds/semver"
)

// Channel is a release track. Each channel has at most one "latest" release.
type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelBeta    Channel = "beta"
	ChannelNightly Channel = "nightly"
)

// Kind tags the outcome of parsing a version string.
type Kind int

const (
	// KindInvalid means the string is neither a release version nor an alias.
	KindInvalid Kind = iota
	// KindRelease is a concrete version such as "1.75.0" or "1.78.0-beta.1".
	KindRelease
	// KindAlias is one of the channel aliases: stable, beta, nightly, latest.
	KindAlias
)

// Parsed is the tagged parse result.
type Parsed struct {
	Kind Kind

	// Version is the normalized release version. Only set for KindRelease.
	Version string

	// Channel is the release track. For KindRelease it is inferred from the
	// version's prerelease tag; for KindAlias it is the resolved channel
	// ("latest" resolves to stable).
	Channel Channel
}

// Parse classifies a raw version string.
//
// Aliases are matched exactly and lowercase. Anything else must be a valid
// semantic version; strings that fail to parse (including path-traversal
// attempts like "../etc") come back as KindInvalid and must not be used for
// storage lookups.
func Parse(raw string) Parsed {
	switch raw {
	case "stable", "latest":
		return Parsed{Kind: KindAlias, Channel: ChannelStable}
	case "beta":
		return Parsed{Kind: KindAlias, Channel: ChannelBeta}
	case "nightly":
		return Parsed{Kind: KindAlias, Channel: ChannelNightly}
	}

	if !plausible(raw) {
		return Parsed{Kind: KindInvalid}
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return Parsed{Kind: KindInvalid}
	}

	return Parsed{
		Kind:    KindRelease,
		Version: raw,
		Channel: inferChannel(v.Prerelease()),
	}
}

// ParseRustc extracts the release version from a manifest's rustc version
// string, which carries a commit/date suffix: "1.75.0 (82e1608df 2023-12-21)".
func ParseRustc(raw string) Parsed {
	prefix, _, _ := strings.Cut(strings.TrimSpace(raw), " ")
	return Parse(prefix)
}

// plausible rejects strings that could never be a version before handing
// them to the semver parser. Request path segments arrive unescaped, so
// separators and parent-directory sequences are refused outright.
func plausible(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	if strings.ContainsAny(s, "/\\ \t") || strings.Contains(s, "..") {
		return false
	}
	return true
}

func inferChannel(prerelease string) Channel {
	switch {
	case strings.HasPrefix(prerelease, "beta"):
		return ChannelBeta
	case strings.HasPrefix(prerelease, "nightly"):
		return ChannelNightly
	default:
		return ChannelStable
	}
}

// Channels lists every release track, in display order.
func Channels() []Channel {
	return []Channel{ChannelStable, ChannelBeta, ChannelNightly}
}

// ValidChannel reports whether s names a release track (aliases excluded).
func ValidChannel(s string) bool {
	switch Channel(s) {
	case ChannelStable, ChannelBeta, ChannelNightly:
		return true
	}
	return false
}
