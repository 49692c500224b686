package security_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saasform/go-session-auth/internal/security"
)

func TestNewOutboundClient(t *testing.T) {
	client := security.NewOutboundClient(5 * time.Second)
	require.NotNil(t, client)
	require.Equal(t, 5*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)
	require.NotEqual(t, http.DefaultTransport, client.Transport)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://op.example.com/authorize", false},
		{"public http", "http://op.example.com", false},
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "https://", true},
		{"localhost", "https://localhost/authorize", true},
		{"loopback ip", "https://127.0.0.1/authorize", true},
		{"private ip", "https://10.0.0.5/authorize", true},
		{"link local metadata", "http://169.254.169.254/latest/meta-data", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := security.ValidateURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
