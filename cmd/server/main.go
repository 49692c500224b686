package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"

	"github.com/saasform/go-session-auth/internal/config"
	"github.com/saasform/go-session-auth/internal/metrics"
	"github.com/saasform/go-session-auth/internal/security"
	"github.com/saasform/go-session-auth/oidc"
	"github.com/saasform/go-session-auth/server"
	"github.com/saasform/go-session-auth/session"
	fakeuserrepo "github.com/saasform/go-session-auth/users/repofake"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	sessions, cleanup, err := newSessionManager(c)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	defer cleanup()

	collector := metrics.NewCollector()
	userRepo := fakeuserrepo.NewFakeUserRepo()

	strategy, err := newStrategy(c, userRepo)
	if err != nil {
		return fmt.Errorf("authentication strategy: %w", err)
	}

	srv, err := server.New(c, sessions, strategy, userRepo, collector)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func newSessionManager(c config.Config) (*session.Manager, func(), error) {
	keys, err := loadOrGenerateKeys(c.GetSessionKeyFile())
	if err != nil {
		return nil, nil, err
	}

	var store session.Store
	cleanup := func() {}
	if path := c.GetSessionDBFile(); path != "" {
		boltStore, err := session.OpenBoltStore(filepath.Join(c.GetDataFolder(), path))
		if err != nil {
			return nil, nil, err
		}
		store = boltStore
		cleanup = func() { _ = boltStore.Close() }
	}

	m, err := session.NewManager(session.Options{
		Name:    c.GetCookieName(),
		Keys:    keys,
		Secrets: c.GetCookieSecrets(),
		Store:   store,
		Cookie: session.CookieOptions{
			Path:     "/",
			HTTPOnly: true,
			Secure:   session.SecureAuto,
			MaxAge:   c.GetSessionMaxAge(),
		},
		Rolling:    c.GetRollingSessions(),
		TrustProxy: c.GetTrustProxy(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return m, cleanup, nil
}

func loadOrGenerateKeys(path string) ([]session.KeyPair, error) {
	if path == "" {
		pair, err := session.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		log.Printf("SESSION_KEY_FILE not set, using an ephemeral signing key\n")
		return []session.KeyPair{pair}, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session key file: %w", err)
	}
	pair, err := session.LoadKeyPairFromPEM(string(pem), "")
	if err != nil {
		return nil, fmt.Errorf("parse session key file: %w", err)
	}
	return []session.KeyPair{pair}, nil
}

func newStrategy(c config.Config, userRepo *fakeuserrepo.FakeUserRepo) (*oidc.Strategy, error) {
	client := security.NewOutboundClient(c.GetOutboundTimeout())
	verify := server.NewVerifyFunc(userRepo)
	callbackURL := c.GetBaseURL() + c.GetOIDCCallbackPath()

	if c.GetOIDCDynamicDiscovery() {
		resolver := oidc.NewResolver(oidc.WithHTTPClient(client))
		registrar := &oidc.HTTPRegistrar{Client: client, ClientName: c.GetAppName()}
		return oidc.New(oidc.Config{
			Setup:      oidc.DynamicSetup(resolver, registrar, client, callbackURL),
			Scope:      c.GetOIDCScope(),
			SessionKey: "openidconnect:dynamic",
			HTTPClient: client,
		}, verify)
	}

	if err := security.ValidateURL(c.GetOIDCAuthorizationURL()); err != nil {
		return nil, fmt.Errorf("OIDC_AUTHORIZATION_URL: %w", err)
	}
	return oidc.New(oidc.Config{
		Issuer:           c.GetOIDCIssuer(),
		AuthorizationURL: c.GetOIDCAuthorizationURL(),
		TokenURL:         c.GetOIDCTokenURL(),
		UserInfoURL:      c.GetOIDCUserInfoURL(),
		ClientID:         c.GetOIDCClientID(),
		ClientSecret:     c.GetOIDCClientSecret(),
		CallbackURL:      callbackURL,
		Scope:            c.GetOIDCScope(),
		HTTPClient:       client,
	}, verify)
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
