package github

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/danielolaszy/autopr/internal/config"
)

// readKeyFile is a variable for testing; defaults to os.ReadFile.
var readKeyFile = os.ReadFile

// newAppHTTPClient creates an http.Client that authenticates as a GitHub App
// installation. The JWT issuer is the App's Client ID. baseURL is the API
// root without a trailing slash.
func newAppHTTPClient(app config.AppConfig, baseURL string) (*http.Client, error) {
	keyData, err := readKeyFile(expandHome(app.PrivateKeyPath))
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", app.PrivateKeyPath, err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      key,
	}

	// The numeric App ID is unused; the signer sets the issuer.
	atr, err := ghinstallation.NewAppsTransportWithOptions(http.DefaultTransport, 0, ghinstallation.WithSigner(signer))
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}
	atr.BaseURL = baseURL

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	itr.BaseURL = baseURL

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer with a string Client ID as
// the JWT issuer.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
