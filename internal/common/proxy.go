package common

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/http/httpproxy"
)

// proxyEnvVars is the detection order for ambient proxy configuration.
// An explicitly configured server URL always wins over the environment.
var proxyEnvVars = []string{
	"http_proxy", "HTTP_PROXY",
	"https_proxy", "HTTPS_PROXY",
	"all_proxy", "ALL_PROXY",
}

var allowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks":  true,
	"socks5": true,
}

// ProxySettings holds the resolved outbound proxy for this process.
// A nil *ProxySettings or a nil URL means direct connections.
type ProxySettings struct {
	URL *url.URL
}

// DetectProxy resolves the proxy server to use, checking the explicit
// configuration first and then the conventional environment variables.
// The literal value "false" on any candidate disables proxying entirely.
func DetectProxy(cfg *ProxyConfig) (*ProxySettings, error) {
	candidates := []string{cfg.ServerURL}
	for _, key := range proxyEnvVars {
		candidates = append(candidates, os.Getenv(key))
	}

	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		if strings.EqualFold(raw, "false") {
			return nil, nil
		}

		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy server URL %q: %w", raw, err)
		}
		if !allowedProxySchemes[u.Scheme] {
			return nil, fmt.Errorf("unsupported proxy scheme %q (expected http, https, socks or socks5)", u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy server URL %q has no host", raw)
		}

		// Credentials from config take effect only when the URL itself
		// carries none.
		if u.User == nil && cfg.Username != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		}

		return &ProxySettings{URL: u}, nil
	}

	return nil, nil
}

// NewHTTPTransport builds the shared transport for all host traffic. The
// resolved proxy is applied through a NO_PROXY-aware proxy func so that
// exempted hosts still connect directly.
func NewHTTPTransport(cfg *ProxyConfig, proxy *ProxySettings) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy != nil && proxy.URL != nil {
		proxyCfg := &httpproxy.Config{
			HTTPProxy:  proxy.URL.String(),
			HTTPSProxy: proxy.URL.String(),
			NoProxy:    noProxyFromEnv(),
		}
		proxyFunc := proxyCfg.ProxyFunc()
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		}
	} else {
		transport.Proxy = nil
	}

	if cfg.SkipHTTPSCertValidation {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return transport
}

func noProxyFromEnv() string {
	if v := os.Getenv("no_proxy"); v != "" {
		return v
	}
	return os.Getenv("NO_PROXY")
}
