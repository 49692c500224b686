package oidc

import (
	"context"
	"net/http"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// Provider is the resolved provider configuration for one authentication
// round.
type Provider struct {
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	RegistrationURL  string
	ClientID         string
	ClientSecret     string
	CallbackURL      string
}

// SetupFunc resolves the provider configuration for a request. The
// identifier is the user-supplied value driving discovery and is empty for
// statically configured providers.
type SetupFunc func(ctx context.Context, identifier string, r *http.Request) (*Provider, error)

// CredentialOverrides carries per-request replacements for the client
// credentials, for deployments where each tenant registers its own client.
type CredentialOverrides struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// ManualOptions is a statically configured provider.
type ManualOptions struct {
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	ClientID         string
	ClientSecret     string
	CallbackURL      string

	// OptionsFromRequest, when set, supplies per-request credential
	// overrides. Empty fields leave the static value in place.
	OptionsFromRequest func(ctx context.Context, r *http.Request) (*CredentialOverrides, error)
}

// ManualSetup returns a setup function for a statically configured provider.
// All required parameters are validated together so a misconfiguration is
// reported in one pass.
func ManualSetup(opts ManualOptions) SetupFunc {
	return func(ctx context.Context, _ string, r *http.Request) (*Provider, error) {
		var missing []string
		if opts.Issuer == "" {
			missing = append(missing, "issuer")
		}
		if opts.AuthorizationURL == "" {
			missing = append(missing, "authorizationURL")
		}
		if opts.TokenURL == "" {
			missing = append(missing, "tokenURL")
		}
		if opts.ClientID == "" {
			missing = append(missing, "clientID")
		}
		if opts.ClientSecret == "" {
			missing = append(missing, "clientSecret")
		}
		if len(missing) > 0 {
			return nil, errors.Errorf("manual OpenID configuration is missing required parameter(s) - %s", strings.Join(missing, ", "))
		}

		p := &Provider{
			Issuer:           opts.Issuer,
			AuthorizationURL: opts.AuthorizationURL,
			TokenURL:         opts.TokenURL,
			UserInfoURL:      opts.UserInfoURL,
			ClientID:         opts.ClientID,
			ClientSecret:     opts.ClientSecret,
			CallbackURL:      opts.CallbackURL,
		}

		if opts.OptionsFromRequest != nil {
			o, err := opts.OptionsFromRequest(ctx, r)
			if err != nil {
				return nil, errors.Wrap(err, "[ManualSetup] request options callback failed")
			}
			if o != nil {
				if o.ClientID != "" {
					p.ClientID = o.ClientID
				}
				if o.ClientSecret != "" {
					p.ClientSecret = o.ClientSecret
				}
				if o.CallbackURL != "" {
					p.CallbackURL = o.CallbackURL
				}
			}
		}
		return p, nil
	}
}

// DynamicSetup returns a setup function that discovers the provider from the
// identifier: WebFinger resolves the issuer, the issuer's openid-configuration
// document supplies the endpoints, and the registrar obtains client
// credentials. The client is used for the discovery request.
func DynamicSetup(resolver *Resolver, registrar Registrar, client *http.Client, callbackURL string) SetupFunc {
	return func(ctx context.Context, identifier string, _ *http.Request) (*Provider, error) {
		if identifier == "" {
			return nil, errors.New("[DynamicSetup] identifier is required for provider discovery")
		}

		issuer, err := resolver.Resolve(ctx, identifier)
		if err != nil {
			return nil, errors.Wrap(err, "[DynamicSetup] issuer resolution failed")
		}

		if client != nil {
			ctx = gooidc.ClientContext(ctx, client)
		}
		discovered, err := gooidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, errors.Wrapf(err, "[DynamicSetup] failed to load openid-configuration for %s", issuer)
		}

		var md struct {
			Issuer                string `json:"issuer"`
			AuthorizationEndpoint string `json:"authorization_endpoint"`
			TokenEndpoint         string `json:"token_endpoint"`
			UserinfoEndpoint      string `json:"userinfo_endpoint"`
			RegistrationEndpoint  string `json:"registration_endpoint"`
		}
		if err := discovered.Claims(&md); err != nil {
			return nil, errors.Wrap(err, "[DynamicSetup] failed to decode provider metadata")
		}

		p := &Provider{
			Issuer:           md.Issuer,
			AuthorizationURL: md.AuthorizationEndpoint,
			TokenURL:         md.TokenEndpoint,
			UserInfoURL:      md.UserinfoEndpoint,
			RegistrationURL:  md.RegistrationEndpoint,
			CallbackURL:      callbackURL,
		}

		if registrar == nil {
			return nil, errors.New("[DynamicSetup] a registrar is required to obtain client credentials")
		}
		clientID, clientSecret, err := registrar.Register(ctx, *p)
		if err != nil {
			return nil, errors.Wrapf(err, "[DynamicSetup] client registration with %s failed", issuer)
		}
		p.ClientID = clientID
		p.ClientSecret = clientSecret
		return p, nil
	}
}
