package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// issuerRel is the WebFinger link relation identifying an OpenID Connect
// issuer.
const issuerRel = "http://openid.net/specs/connect/1.0/issuer"

// NoProviderError reports a WebFinger response that contained no issuer link
// for the identifier. Response carries the raw document for diagnostics.
type NoProviderError struct {
	Identifier string
	Response   json.RawMessage
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no OpenID provider discoverable for %q", e.Identifier)
}

// Resolver discovers the OpenID issuer for a user-supplied identifier via
// WebFinger.
type Resolver struct {
	client  *http.Client
	baseURL string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets the client used for WebFinger requests.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = client }
}

// WithBaseURL sends every WebFinger request to a fixed base URL instead of
// the host derived from the identifier. Used in tests and behind proxies.
func WithBaseURL(base string) ResolverOption {
	return func(r *Resolver) { r.baseURL = strings.TrimSuffix(base, "/") }
}

// NewResolver creates a WebFinger resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{client: http.DefaultClient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the issuer URL for the identifier, which may be an email
// style address (acct), a URL, or a bare host. A response without an issuer
// link yields a NoProviderError.
func (res *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	resource, host, err := normalizeIdentifier(identifier)
	if err != nil {
		return "", err
	}

	base := res.baseURL
	if base == "" {
		base = "https://" + host
	}
	target := base + "/.well-known/webfinger?resource=" + queryEscape(resource) + "&rel=" + queryEscape(issuerRel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", errors.Wrap(err, "[Resolver.Resolve] failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := res.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "[Resolver.Resolve] WebFinger request to %s failed", host)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "[Resolver.Resolve] failed to read WebFinger response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("[Resolver.Resolve] WebFinger endpoint at %s returned status %d", host, resp.StatusCode)
	}

	var doc struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", errors.Wrap(err, "[Resolver.Resolve] failed to decode WebFinger response")
	}

	for _, link := range doc.Links {
		if link.Rel == issuerRel && link.Href != "" {
			return link.Href, nil
		}
	}
	return "", &NoProviderError{Identifier: identifier, Response: json.RawMessage(body)}
}

// normalizeIdentifier turns the user-supplied identifier into a WebFinger
// resource and the host to query.
func normalizeIdentifier(identifier string) (resource, host string, err error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", "", errors.New("[Resolver.Resolve] identifier is empty")
	}

	if strings.Contains(id, "://") {
		u, err := url.Parse(id)
		if err != nil || u.Host == "" {
			return "", "", errors.Errorf("[Resolver.Resolve] cannot derive a host from %q", identifier)
		}
		return id, u.Host, nil
	}

	if at := strings.LastIndexByte(id, '@'); at > 0 && at < len(id)-1 {
		return "acct:" + id, id[at+1:], nil
	}

	return "https://" + id, id, nil
}
