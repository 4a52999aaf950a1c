package task

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

// ProxySettings are the templated proxy fields of a configuration. RDNS is
// accepted but has no effect: SOCKS5 proxies always resolve host names.
type ProxySettings struct {
	Enabled  string `json:"proxy_enabled"`
	URL      string `json:"proxy_url"`
	Port     string `json:"proxy_port"`
	Username string `json:"proxy_username"`
	Password string `json:"proxy_password"`
	Type     string `json:"proxy_type"`
	RDNS     string `json:"proxy_rdns"`
}

var proxySchemes = map[string]string{
	"":               "http",
	"http":           "http",
	"http_no_tunnel": "http",
	"socks5":         "socks5",
	"socks5h":        "socks5",
}

// Proxy is a compiled proxy configuration.
type Proxy struct {
	enabled  *token.Token
	host     *token.Token
	port     *token.Token
	username *token.Token
	password *token.Token
	kind     *token.Token
}

// NewProxy compiles s. Literal fields are validated immediately.
func NewProxy(s ProxySettings) (*Proxy, error) {
	p := &Proxy{}
	fields := []struct {
		name string
		src  string
		dst  **token.Token
	}{
		{"proxy_enabled", s.Enabled, &p.enabled},
		{"proxy_url", s.URL, &p.host},
		{"proxy_port", s.Port, &p.port},
		{"proxy_username", s.Username, &p.username},
		{"proxy_password", s.Password, &p.password},
		{"proxy_type", s.Type, &p.kind},
	}
	for _, f := range fields {
		t, err := token.Compile(f.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = t
	}

	if p.kind.IsLiteral() {
		if _, err := proxyScheme(s.Type); err != nil {
			return nil, err
		}
	}
	if p.port.IsLiteral() && s.Port != "" {
		if _, err := proxyPort(s.Port); err != nil {
			return nil, err
		}
	}
	if p.enabled.IsLiteral() && isEnabled(s.Enabled) && p.host.IsLiteral() && strings.TrimSpace(s.URL) == "" {
		return nil, fmt.Errorf("%w: proxy_url is required when the proxy is enabled", cerrors.ErrInvalidProxy)
	}
	return p, nil
}

// Render returns the proxy URL for v, or "" when the proxy is disabled.
func (p *Proxy) Render(v vars.Context) (string, error) {
	render := func(t *token.Token) (string, error) {
		s, err := t.RenderString(v)
		return strings.TrimSpace(s), err
	}

	enabled, err := render(p.enabled)
	if err != nil || !isEnabled(enabled) {
		return "", err
	}
	host, err := render(p.host)
	if err != nil {
		return "", err
	}
	if host == "" {
		return "", fmt.Errorf("%w: proxy_url is empty", cerrors.ErrInvalidProxy)
	}
	kind, err := render(p.kind)
	if err != nil {
		return "", err
	}
	scheme, err := proxyScheme(kind)
	if err != nil {
		return "", err
	}
	portText, err := render(p.port)
	if err != nil {
		return "", err
	}

	u := &url.URL{Scheme: scheme, Host: host}
	if portText != "" {
		port, err := proxyPort(portText)
		if err != nil {
			return "", err
		}
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	user, err := render(p.username)
	if err != nil {
		return "", err
	}
	if user != "" {
		pass, err := render(p.password)
		if err != nil {
			return "", err
		}
		u.User = url.UserPassword(user, pass)
	}
	return u.String(), nil
}

func proxyScheme(kind string) (string, error) {
	scheme, ok := proxySchemes[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported proxy_type %q", cerrors.ErrInvalidProxy, kind)
	}
	return scheme, nil
}

func proxyPort(text string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: proxy_port %q out of range", cerrors.ErrInvalidProxy, text)
	}
	return port, nil
}

func isEnabled(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "true", "yes", "y", "t":
		return true
	}
	return false
}
