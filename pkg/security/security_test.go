package security

import (
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLookup(table map[string][]string) func(string) ([]net.IP, error) {
	return func(host string) ([]net.IP, error) {
		addrs, ok := table[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = net.ParseIP(a)
		}
		return ips, nil
	}
}

func TestURLGuard_CheckURL(t *testing.T) {
	g := NewURLGuard(DefaultURLGuardConfig())
	g.lookup = fakeLookup(map[string][]string{
		"example.com":  {"93.184.216.34"},
		"intranet.lan": {"10.0.0.8"},
		"rebind.test":  {"93.184.216.34", "192.168.1.1"},
	})

	tests := []struct {
		url     string
		wantErr string
	}{
		{url: "https://example.com/news"},
		{url: "ftp://example.com/file", wantErr: "scheme"},
		{url: "http://169.254.169.254/latest/meta-data", wantErr: "link-local"},
		{url: "http://127.0.0.1:8080/", wantErr: "loopback"},
		{url: "http://localhost/", wantErr: "loopback"},
		{url: "http://intranet.lan/", wantErr: "private"},
		{url: "http://rebind.test/", wantErr: "private"},
		{url: "http://unknown.invalid/", wantErr: "resolve"},
		{url: "http:///path", wantErr: "no host"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := g.CheckURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestURLGuard_AllowlistAndLoopback(t *testing.T) {
	g := NewURLGuard(URLGuardConfig{AllowedHosts: []string{"LocalHost", "127.0.0.1"}, AllowLoopback: true})

	assert.NoError(t, g.CheckURL("http://localhost:9000/"))
	assert.NoError(t, g.CheckURL("http://127.0.0.1:9000/"))
	assert.ErrorContains(t, g.CheckURL("https://example.com/"), "allowlist")
}

func TestConfinePath(t *testing.T) {
	base := t.TempDir()

	got, err := ConfinePath("reports/q3.md", base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "reports", "q3.md"), got)

	got, err = ConfinePath(filepath.Join(base, "a.md"), base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a.md"), got)

	for _, bad := range []string{"../escape.md", "reports/../../escape.md", "/etc/passwd"} {
		_, err := ConfinePath(bad, base)
		assert.ErrorIs(t, err, ErrPathOutsideBase, bad)
	}

	_, err = ConfinePath("", base)
	assert.Error(t, err)
	_, err = ConfinePath("a\x00b", base)
	assert.Error(t, err)
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "Market_Analysis__Q3_", SafeFileName("Market Analysis (Q3)"))
	assert.Equal(t, "___etc_passwd", SafeFileName("../etc/passwd"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello\nworld\t!", SanitizeString("hel\x00lo\nwor\x07ld\t!"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "clients are limited independently")
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Clients())
}

func TestDecodeYAML(t *testing.T) {
	type cfg struct {
		Name   string   `yaml:"name"`
		Agents []string `yaml:"agents"`
	}

	var c cfg
	require.NoError(t, DecodeYAML([]byte("name: market\nagents: [CEO, Analyst]\n"), &c, DefaultYAMLLimits(), true))
	assert.Equal(t, "market", c.Name)
	assert.Equal(t, []string{"CEO", "Analyst"}, c.Agents)

	err := DecodeYAML([]byte("name: market\nunknown: 1\n"), &c, DefaultYAMLLimits(), true)
	assert.ErrorContains(t, err, "unknown")
	assert.NoError(t, DecodeYAML([]byte("name: market\nunknown: 1\n"), &c, DefaultYAMLLimits(), false))

	var empty cfg
	assert.NoError(t, DecodeYAML(nil, &empty, DefaultYAMLLimits(), true))
}

func TestDecodeYAML_Limits(t *testing.T) {
	limits := DefaultYAMLLimits()
	limits.MaxDepth = 3
	limits.MaxNodes = 50
	limits.MaxFileSize = 512

	var v any
	deep := "a:\n  b:\n    c:\n      d:\n        e: 1\n"
	assert.ErrorContains(t, DecodeYAML([]byte(deep), &v, limits, false), "depth")

	wide := "list: [" + strings.Repeat("1,", 60) + "1]"
	assert.ErrorContains(t, DecodeYAML([]byte(wide), &v, limits, false), "node count")

	assert.ErrorContains(t, DecodeYAML([]byte(strings.Repeat("x", 600)), &v, limits, false), "exceeds maximum")

	// Alias expansion adds depth, so the depth limit is lifted to reach the node limit.
	bombLimits := limits
	bombLimits.MaxDepth = 10
	bombs := "a: &a [x, x, x, x, x]\nb: &b [*a, *a, *a, *a, *a]\nc: [*b, *b, *b, *b, *b]\n"
	assert.ErrorContains(t, DecodeYAML([]byte(bombs), &v, bombLimits, false), "node count")
}

func TestRedactSecrets(t *testing.T) {
	in := "call failed: key sk-abcdefghijklmnop rejected, url=https://x?api_key=12345&q=ev, header Bearer abc.def"
	out := RedactSecrets(in)
	assert.NotContains(t, out, "sk-abcdefghijklmnop")
	assert.NotContains(t, out, "12345")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, "q=ev")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "sk-a****wxyz", MaskSecret("sk-abcdefghijklmnopqrstuvwxyz"))
}
