package security_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/security"
)

func TestValidateAcceptsPublicURLs(t *testing.T) {
	t.Parallel()
	g := security.NewURLGuard()

	for _, u := range []string{
		"https://example.com/article",
		"http://example.com:8080/path?q=1",
		"https://93.184.216.34/",
	} {
		assert.NoError(t, g.Validate(u), u)
	}
}

func TestValidateRejectsDangerousURLs(t *testing.T) {
	t.Parallel()
	g := security.NewURLGuard()

	cases := map[string]string{
		"scheme":       "file:///etc/passwd",
		"ftp":          "ftp://example.com/file",
		"localhost":    "http://localhost:8080/",
		"loopback":     "http://127.0.0.1/",
		"loopback v6":  "http://[::1]/",
		"mapped v4":    "http://[::ffff:127.0.0.1]/",
		"private 10":   "http://10.0.0.5/",
		"private 172":  "http://172.16.1.1/",
		"private 192":  "http://192.168.1.1/",
		"link local":   "http://169.254.169.254/latest/meta-data/",
		"unspecified":  "http://0.0.0.0/",
		"metadata":     "http://metadata.google.internal/computeMetadata/v1/",
		"empty host":   "http:///path",
		"no scheme":    "example.com/page",
	}
	for name, u := range cases {
		assert.Error(t, g.Validate(u), name)
	}
}

func TestValidateAllowsPublicHostnames(t *testing.T) {
	t.Parallel()
	g := security.NewURLGuard()

	// Static validation passes hostnames through; resolved addresses are
	// checked at dial time.
	assert.NoError(t, g.Validate("https://internal.example.com/"))
}

func TestCheckRedirect(t *testing.T) {
	t.Parallel()
	g := security.NewURLGuard()

	mkReq := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return &http.Request{URL: u}
	}

	assert.NoError(t, g.CheckRedirect(mkReq("https://example.com/next"), nil))
	assert.Error(t, g.CheckRedirect(mkReq("http://169.254.169.254/"), nil))

	via := make([]*http.Request, 10)
	for i := range via {
		via[i] = mkReq("https://example.com/")
	}
	assert.Error(t, g.CheckRedirect(mkReq("https://example.com/final"), via))
}
