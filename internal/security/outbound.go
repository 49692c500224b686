// Package security builds the outbound HTTP clients used to talk to OpenID
// providers.
package security

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/pkg/errors"
)

var allowedSchemes = []string{"http", "https"}

// blockedNetworks are checked by ValidateURL before any request is made.
// safeurl validates resolved IPs again at dial time, which also covers DNS
// rebinding.
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in blockedNetworks: " + cidr)
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NewOutboundClient returns an HTTP client for provider discovery, token
// exchange and userinfo requests. Requests to private, loopback, link-local
// and metadata addresses are refused, so a hostile identifier cannot steer
// the server into its own network.
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL statically checks a provider URL before any network activity.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Errorf("disallowed scheme: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return errors.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.ToLower(host) == "localhost" {
		return errors.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return errors.Errorf("blocked IP address: %s", ip.String())
			}
		}
	}
	return nil
}
