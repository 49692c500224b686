package config

type OIDCConfig interface {
	GetOIDCIssuer() string
	GetOIDCAuthorizationURL() string
	GetOIDCTokenURL() string
	GetOIDCUserInfoURL() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
	GetOIDCCallbackPath() string
	GetOIDCScope() string
	GetOIDCDynamicDiscovery() bool
}

type OIDCVars struct{}

var _ OIDCConfig = OIDCVars{}

func (OIDCVars) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (OIDCVars) GetOIDCAuthorizationURL() string {
	return GetEnv("OIDC_AUTHORIZATION_URL", "")
}

func (OIDCVars) GetOIDCTokenURL() string {
	return GetEnv("OIDC_TOKEN_URL", "")
}

func (OIDCVars) GetOIDCUserInfoURL() string {
	return GetEnv("OIDC_USERINFO_URL", "")
}

func (OIDCVars) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (OIDCVars) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (OIDCVars) GetOIDCCallbackPath() string {
	return GetEnv("OIDC_CALLBACK_PATH", "/auth/callback")
}

func (OIDCVars) GetOIDCScope() string {
	return GetEnv("OIDC_SCOPE", "profile email")
}

// GetOIDCDynamicDiscovery enables WebFinger discovery and dynamic client
// registration instead of the static provider configuration.
func (OIDCVars) GetOIDCDynamicDiscovery() bool {
	return GetEnv("OIDC_DYNAMIC_DISCOVERY", "false") == "true"
}
