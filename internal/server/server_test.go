package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rustdist/internal/dist"
	"rustdist/internal/ingest"
	"rustdist/internal/model"
	"rustdist/internal/server"
	"rustdist/internal/testutil"
	"rustdist/internal/version"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

func newTestServer(t *testing.T, releases ...model.Release) *httptest.Server {
	t.Helper()

	store := testutil.NewTestStore(t)
	if len(releases) > 0 {
		testutil.SeedReleases(t, store, releases...)
	}

	srv, err := server.New(store, nopLogger{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body of %s: %v", path, err)
	}
	return resp, string(body)
}

func TestVersionAPI(t *testing.T) {
	ts := newTestServer(t, testutil.StableRelease(), testutil.BetaRelease(), testutil.NightlyRelease("1.77.0-nightly"))

	t.Run("exact version", func(t *testing.T) {
		resp, body := get(t, ts, "/api/v1/version/1.75.0")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		var rel model.Release
		if err := json.Unmarshal([]byte(body), &rel); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if rel.Version != "1.75.0" || rel.Channel != "stable" {
			t.Errorf("got version %s channel %s, want 1.75.0 stable", rel.Version, rel.Channel)
		}
		if len(rel.Components) != 2 {
			t.Errorf("components = %d, want 2", len(rel.Components))
		}
		if len(rel.Artefacts) != 1 {
			t.Errorf("artefacts = %d, want 1", len(rel.Artefacts))
		}
	})

	t.Run("channel aliases", func(t *testing.T) {
		for alias, want := range map[string]string{
			"stable":  "1.75.0",
			"latest":  "1.75.0",
			"beta":    "1.76.0-beta.3",
			"nightly": "1.77.0-nightly",
		} {
			resp, body := get(t, ts, "/api/v1/version/"+alias)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("%s: status = %d, want 200", alias, resp.StatusCode)
			}
			var rel model.Release
			if err := json.Unmarshal([]byte(body), &rel); err != nil {
				t.Fatalf("%s: decoding response: %v", alias, err)
			}
			if rel.Version != want {
				t.Errorf("%s resolved to %s, want %s", alias, rel.Version, want)
			}
		}
	})

	t.Run("unknown version is 404 with path in body", func(t *testing.T) {
		resp, body := get(t, ts, "/api/v1/version/1.99.0")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		var errResp struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
			Path   string `json:"path"`
		}
		if err := json.Unmarshal([]byte(body), &errResp); err != nil {
			t.Fatalf("decoding error response: %v", err)
		}
		if errResp.Status != 404 {
			t.Errorf("body status = %d, want 404", errResp.Status)
		}
		if errResp.Path != "/api/v1/version/1.99.0" {
			t.Errorf("body path = %q, want the request path", errResp.Path)
		}
	})

	t.Run("malformed version is 400", func(t *testing.T) {
		for _, raw := range []string{"not-a-version", "1.75.0%27%3B%20DROP%20TABLE%20releases", "..%2Fetc"} {
			resp, _ := get(t, ts, "/api/v1/version/"+raw)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", raw, resp.StatusCode)
			}
		}
	})
}

func TestComponentAPI(t *testing.T) {
	ts := newTestServer(t, testutil.StableRelease())

	t.Run("component under exact version", func(t *testing.T) {
		resp, body := get(t, ts, "/api/v1/component/rustc/1.75.0")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var comp model.Component
		if err := json.Unmarshal([]byte(body), &comp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if comp.Name != "rustc" {
			t.Errorf("name = %q, want rustc", comp.Name)
		}
		if len(comp.Targets) != 2 {
			t.Errorf("targets = %d, want 2", len(comp.Targets))
		}
	})

	t.Run("component under channel alias", func(t *testing.T) {
		resp, body := get(t, ts, "/api/v1/component/rust-std/stable")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var comp model.Component
		if err := json.Unmarshal([]byte(body), &comp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if comp.Name != "rust-std" {
			t.Errorf("name = %q, want rust-std", comp.Name)
		}
	})

	t.Run("unknown component is 404", func(t *testing.T) {
		resp, _ := get(t, ts, "/api/v1/component/miri/1.75.0")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("malformed component name is 400", func(t *testing.T) {
		resp, _ := get(t, ts, "/api/v1/component/bad%20name/1.75.0")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestNamedChannelsAPI(t *testing.T) {
	ts := newTestServer(t, testutil.StableRelease(), testutil.BetaRelease(), testutil.NightlyRelease("1.77.0-nightly"))

	resp, body := get(t, ts, "/api/v1/named_channels")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var channels []model.Release
	if err := json.Unmarshal([]byte(body), &channels); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(channels) != 3 {
		t.Fatalf("channels = %d, want 3", len(channels))
	}

	byChannel := make(map[string]string)
	for _, rel := range channels {
		byChannel[rel.Channel] = rel.Version
	}
	if byChannel["stable"] != "1.75.0" {
		t.Errorf("stable = %q, want 1.75.0", byChannel["stable"])
	}
	if byChannel["nightly"] != "1.77.0-nightly" {
		t.Errorf("nightly = %q, want 1.77.0-nightly", byChannel["nightly"])
	}
}

func TestHTMLPages(t *testing.T) {
	ts := newTestServer(t, testutil.StableRelease(), testutil.BetaRelease())

	t.Run("index", func(t *testing.T) {
		resp, body := get(t, ts, "/")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("Content-Type = %q, want text/html", ct)
		}
		if !strings.Contains(body, "1.75.0") {
			t.Error("index does not mention the stable release")
		}
	})

	t.Run("all versions", func(t *testing.T) {
		resp, body := get(t, ts, "/info/all")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		for _, want := range []string{"1.75.0", "1.76.0-beta.3"} {
			if !strings.Contains(body, want) {
				t.Errorf("page does not mention %s", want)
			}
		}
	})

	t.Run("release page", func(t *testing.T) {
		resp, body := get(t, ts, "/info/1.75.0")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		for _, want := range []string{"rustc", "rust-std", "x86_64-unknown-linux-gnu", "source-code"} {
			if !strings.Contains(body, want) {
				t.Errorf("page does not mention %s", want)
			}
		}
	})

	t.Run("release page via alias", func(t *testing.T) {
		resp, body := get(t, ts, "/info/stable")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if !strings.Contains(body, "1.75.0") {
			t.Error("page does not mention the resolved version")
		}
	})

	t.Run("component page", func(t *testing.T) {
		resp, body := get(t, ts, "/info/component/rustc/1.75.0")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if !strings.Contains(body, "rustc") || !strings.Contains(body, "abc123") {
			t.Error("page missing component details")
		}
	})

	t.Run("unknown version renders html 404", func(t *testing.T) {
		resp, body := get(t, ts, "/info/1.99.0")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("Content-Type = %q, want text/html", ct)
		}
		if !strings.Contains(body, "/info/1.99.0") {
			t.Error("error page does not include the requested path")
		}
	})

	t.Run("unknown page is 404", func(t *testing.T) {
		resp, _ := get(t, ts, "/nope")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testutil.StableRelease())

	resp, err := http.Post(ts.URL+"/api/v1/version/1.75.0", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, "GET") {
		t.Errorf("Allow = %q, want GET", allow)
	}
}

func TestEmptyDatabase(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := get(t, ts, "/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("index status = %d, want 200", resp.StatusCode)
	}

	resp, body := get(t, ts, "/api/v1/named_channels")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("named_channels status = %d, want 200", resp.StatusCode)
	}
	var channels []model.Release
	if err := json.Unmarshal([]byte(body), &channels); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("channels = %d, want 0", len(channels))
	}

	resp, _ = get(t, ts, "/api/v1/version/stable")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("stable status = %d, want 404", resp.StatusCode)
	}
}

type channelManifests map[version.Channel]*dist.Manifest

func (m channelManifests) ChannelManifest(_ context.Context, ch version.Channel) (*dist.Manifest, error) {
	return m[ch], nil
}

func upstreamManifest(ver, date string) *dist.Manifest {
	return &dist.Manifest{
		ManifestVersion: "2",
		Date:            date,
		Pkg: map[string]dist.Package{
			"rustc": {
				Version: ver + " (82e1608df " + date + ")",
				Target: map[string]dist.Target{
					"x86_64-unknown-linux-gnu": {
						Available: true,
						URL:       "https://static.rust-lang.org/dist/" + date + "/rustc",
						Hash:      "abc123",
					},
				},
			},
		},
	}
}

// Ingest from a fake upstream, then read the result back over the API.
func TestIngestThenQuery(t *testing.T) {
	store := testutil.NewTestStore(t)

	source := channelManifests{
		version.ChannelStable:  upstreamManifest("1.75.0", "2023-12-21"),
		version.ChannelBeta:    upstreamManifest("1.76.0-beta.3", "2024-01-05"),
		version.ChannelNightly: upstreamManifest("1.77.0-nightly", "2024-01-10"),
	}
	if _, err := ingest.New(source, store, nopLogger{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	srv, err := server.New(store, nopLogger{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts, "/api/v1/version/1.75.0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rel model.Release
	if err := json.Unmarshal([]byte(body), &rel); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if rel.Channel != "stable" {
		t.Errorf("channel = %q, want stable", rel.Channel)
	}
	if len(rel.Components) != 1 || rel.Components[0].Name != "rustc" {
		t.Fatalf("components = %+v, want one rustc", rel.Components)
	}
	tgts := rel.Components[0].Targets
	if len(tgts) != 1 || tgts[0].Name != "x86_64-unknown-linux-gnu" || tgts[0].Hash != "abc123" {
		t.Errorf("targets = %+v, want the ingested linux target", tgts)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := get(t, ts, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "rustdist_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}
