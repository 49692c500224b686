package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Registrar obtains client credentials for a discovered provider.
type Registrar interface {
	Register(ctx context.Context, p Provider) (clientID, clientSecret string, err error)
}

// HTTPRegistrar performs OpenID Connect dynamic client registration against
// the provider's registration endpoint.
type HTTPRegistrar struct {
	Client *http.Client

	// ClientName is reported to the provider as the registering
	// application's name.
	ClientName string

	// RedirectURIs registered with the provider. When empty, the provider
	// CallbackURL is used.
	RedirectURIs []string
}

type registrationRequest struct {
	RedirectURIs  []string `json:"redirect_uris"`
	ClientName    string   `json:"client_name,omitempty"`
	GrantTypes    []string `json:"grant_types"`
	ResponseTypes []string `json:"response_types"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type registrationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (r *HTTPRegistrar) Register(ctx context.Context, p Provider) (string, string, error) {
	if p.RegistrationURL == "" {
		return "", "", errors.Errorf("provider %s does not support dynamic client registration", p.Issuer)
	}

	uris := r.RedirectURIs
	if len(uris) == 0 && p.CallbackURL != "" {
		uris = []string{p.CallbackURL}
	}

	payload, err := json.Marshal(registrationRequest{
		RedirectURIs:  uris,
		ClientName:    r.ClientName,
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
	})
	if err != nil {
		return "", "", errors.Wrap(err, "[HTTPRegistrar.Register] failed to encode registration request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.RegistrationURL, bytes.NewReader(payload))
	if err != nil {
		return "", "", errors.Wrap(err, "[HTTPRegistrar.Register] failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", errors.Wrapf(err, "[HTTPRegistrar.Register] registration request to %s failed", p.RegistrationURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", errors.Wrap(err, "[HTTPRegistrar.Register] failed to read registration response")
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusBadRequest:
		var regErr registrationError
		if err := json.Unmarshal(body, &regErr); err == nil && regErr.Code != "" {
			return "", "", errors.Errorf("registration rejected: %s (%s)", regErr.Code, regErr.Description)
		}
		return "", "", errors.Errorf("registration rejected with status %d", resp.StatusCode)
	default:
		return "", "", errors.Errorf("registration endpoint returned status %d", resp.StatusCode)
	}

	var reg registrationResponse
	if err := json.Unmarshal(body, &reg); err != nil {
		return "", "", errors.Wrap(err, "[HTTPRegistrar.Register] failed to decode registration response")
	}
	if reg.ClientID == "" {
		return "", "", errors.New("registration response is missing client_id")
	}
	return reg.ClientID, reg.ClientSecret, nil
}
