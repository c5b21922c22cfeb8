package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shortontech/cloakgate/internal/event"
	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/internal/store"
	"github.com/shortontech/cloakgate/pkg/config"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type decisionJSON struct {
	Classification struct {
		Type     string         `json:"type"`
		Reason   string         `json:"reason"`
		Evidence map[string]any `json:"evidence"`
	} `json:"classification"`
	Action struct {
		Kind   string `json:"kind"`
		Status int    `json:"status"`
		URL    string `json:"url"`
	} `json:"action"`
	Device string `json:"device"`
}

func classify(t *testing.T, args ...string) decisionJSON {
	t.Helper()
	out, err := execute(t, append([]string{"classify"}, args...)...)
	require.NoError(t, err)

	var d decisionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &d), out)
	return d
}

func TestClassifyCommand(t *testing.T) {
	t.Setenv("OUTPUTS", "log")

	t.Run("infrastructure verifier", func(t *testing.T) {
		d := classify(t, "--ua", "Mozilla/5.0 AdsBot-Google", "--safe-redirect-url", "https://example.com/safe")
		assert.Equal(t, "platform_verifier", d.Classification.Type)
		assert.Equal(t, "infra_bot:adsbot", d.Classification.Reason)
		assert.Equal(t, "safe_redirect", d.Action.Kind)
		assert.Equal(t, "https://example.com/safe", d.Action.URL)
	})

	t.Run("emulator fingerprint", func(t *testing.T) {
		d := classify(t,
			"--ua", "Mozilla/5.0 (Linux; Android 11) AppleWebKit/537.36 Chrome/96.0 Mobile Safari/537.36 musical_ly",
			"--touch", "0", "--platform", "Linux x86_64", "--renderer", "SwiftShader")
		assert.Equal(t, "bot", d.Classification.Type)
		assert.Equal(t, "platform_mismatch", d.Classification.Reason)
		assert.Equal(t, "serve_decoy", d.Action.Kind)
	})

	t.Run("data-center switch", func(t *testing.T) {
		ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
		d := classify(t, "--ua", ua, "--ip", "34.120.1.1")
		assert.Equal(t, "real_user", d.Classification.Type)
		assert.Equal(t, true, d.Classification.Evidence["datacenter_ip"])

		d = classify(t, "--ua", ua, "--ip", "34.120.1.1", "--block-data-centers", "--bot-action", "block")
		assert.Equal(t, "datacenter_ip", d.Classification.Reason)
		assert.Equal(t, "block", d.Action.Kind)
		assert.Equal(t, 403, d.Action.Status)
	})

	t.Run("known bot allowed through", func(t *testing.T) {
		d := classify(t, "--ua", "Googlebot/2.1", "--block-known-bots=false", "--redirect-url", "https://shop.example.com/")
		assert.Equal(t, "real_user", d.Classification.Type)
		assert.Equal(t, "redirect", d.Action.Kind)
		assert.Equal(t, "https://shop.example.com/", d.Action.URL)
	})

	t.Run("provider header", func(t *testing.T) {
		d := classify(t, "--ua", "Mozilla/5.0", "-H", "X-Tt-Ads-Review: 1")
		assert.NotEmpty(t, d.Classification.Type)
	})

	t.Run("requires --ua", func(t *testing.T) {
		_, err := execute(t, "classify")
		assert.Error(t, err)
	})

	t.Run("rejects malformed header", func(t *testing.T) {
		_, err := execute(t, "classify", "--ua", "x", "-H", "no-colon")
		assert.ErrorContains(t, err, "malformed --header")
	})

	t.Run("rejects malformed policy", func(t *testing.T) {
		_, err := execute(t, "classify", "--ua", "x", "--bot-action", "explode")
		assert.Error(t, err)
	})
}

func TestRootRejectsBadConfig(t *testing.T) {
	t.Setenv("FAIL_MODE", "sideways")
	_, err := execute(t, "classify", "--ua", "x")
	assert.ErrorContains(t, err, "FAIL_MODE")
}

func TestSelftestCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	t.Setenv("OUTPUTS", "log")
	t.Setenv("LOG_PATH", path)

	out, err := execute(t, "selftest")
	require.NoError(t, err, out)
	assert.Contains(t, out, "all scenarios passed")
	assert.Equal(t, 6, strings.Count(out, "PASS"), out)
	assert.NotContains(t, out, "FAIL")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []event.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev event.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())

	require.Len(t, events, 5, "scenario F is rejected before classification")
	for _, ev := range events {
		assert.Equal(t, event.TypeSelftest, ev.Type)
		assert.Equal(t, selftestResourceID, ev.Resource.ID)
	}
}

func TestOpenStore(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("file store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "resources.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`resources:
  - id: 0b7e8d52-1f7c-4c52-9f5a-0d8a5cc5b6f1
    slug: spring-sale
    policy:
      redirect_url: https://shop.example.com/
`), 0o600))

		cfg := config.Config{
			FailMode: config.FailOpen,
			Store:    config.StoreConfig{Kind: "file", ResourcesFile: path},
		}
		s, closeFn, err := openStore(context.Background(), cfg, metrics.NewNop(), logger)
		require.NoError(t, err)
		defer closeFn()

		res, err := store.NewResolver(s).Resolve(context.Background(), "spring-sale")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com/", res.Policy.RedirectURL)
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("shipped sample", func(t *testing.T) {
		cfg := config.Config{Store: config.StoreConfig{Kind: "file", ResourcesFile: filepath.Join("..", "..", "resources.yaml")}}
		s, closeFn, err := openStore(context.Background(), cfg, metrics.NewNop(), logger)
		require.NoError(t, err)
		defer closeFn()

		for _, id := range []string{"spring-sale", "Ab3dE", "vip"} {
			res, err := store.NewResolver(s).Resolve(context.Background(), id)
			require.NoError(t, err, id)
			assert.NoError(t, res.Policy.Validate(), id)
		}
	})

	t.Run("missing resources file", func(t *testing.T) {
		cfg := config.Config{Store: config.StoreConfig{Kind: "file", ResourcesFile: filepath.Join(t.TempDir(), "nope.yaml")}}
		_, _, err := openStore(context.Background(), cfg, metrics.NewNop(), logger)
		assert.Error(t, err)
	})

	t.Run("bad redis url only disables the cache", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "resources.yaml")
		require.NoError(t, os.WriteFile(path, []byte("resources: []\n"), 0o600))
		cfg := config.Config{Store: config.StoreConfig{Kind: "file", ResourcesFile: path, RedisURL: "not a url"}}
		_, closeFn, err := openStore(context.Background(), cfg, metrics.NewNop(), logger)
		require.NoError(t, err)
		closeFn()
	})
}

func TestLoadTables(t *testing.T) {
	tbl, err := loadTables(config.Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, tbl.ProviderHeaders())

	_, err = loadTables(config.Config{TablesFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestCutHeader(t *testing.T) {
	name, value, ok := cutHeader("X-Tt-Ads-Review:  1 ")
	assert.True(t, ok)
	assert.Equal(t, "X-Tt-Ads-Review", name)
	assert.Equal(t, "1", value)

	_, _, ok = cutHeader(": empty name")
	assert.False(t, ok)
}
