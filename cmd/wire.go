package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/klapctl/internal/adapters/klap"
	statusadapter "github.com/bnema/klapctl/internal/adapters/render/status"
	tomlrepo "github.com/bnema/klapctl/internal/adapters/repo/toml"
	chainstore "github.com/bnema/klapctl/internal/adapters/secrets/chain"
	filestore "github.com/bnema/klapctl/internal/adapters/secrets/file"
	"github.com/bnema/klapctl/internal/adapters/transport/httpclient"
	"github.com/bnema/klapctl/internal/application"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/observability"
	"github.com/bnema/klapctl/internal/ports"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	appName = "klapctl"

	renewalMarginKey    = "session.renewal_margin"
	confirmHandshakeKey = "session.confirm_handshake"
	requestTimeoutKey   = "transport.request_timeout"
	logLevelKey         = "log.level"
	secretsBackendKey   = "secrets.backend"
	secretsPathKey      = "secrets.path"
	secretsPassKey      = "secrets.passphrase"
)

type app struct {
	service        *application.Service
	secretStore    ports.SecretStore
	statusRenderer func([]domain.SessionStatus, statusadapter.RenderOptions) (string, error)
	suite          ports.CipherSuite
	httpClient     *http.Client
	logger         zerolog.Logger
	session        sessionSettings
	now            func() time.Time
}

type sessionSettings struct {
	RenewalMargin    time.Duration
	ConfirmHandshake bool
	RequestTimeout   time.Duration
}

func wireApp() (*app, error) {
	cfg := newConfig()

	repo, err := tomlrepo.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire device repository: %w", err)
	}

	logger := observability.NewLogger(appName, os.Stderr, cfg.GetString(logLevelKey))

	secretStore, err := wireSecretStore(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		service:        application.NewService(repo, secretStore),
		secretStore:    secretStore,
		statusRenderer: statusadapter.Render,
		suite:          klap.NewSuite(),
		httpClient: &http.Client{
			Transport: observability.NewRequestLogger(http.DefaultTransport, logger),
		},
		logger: logger,
		session: sessionSettings{
			RenewalMargin:    cfg.GetDuration(renewalMarginKey),
			ConfirmHandshake: cfg.GetBool(confirmHandshakeKey),
			RequestTimeout:   cfg.GetDuration(requestTimeoutKey),
		},
		now: time.Now,
	}, nil
}

// newConfig layers KLAPCTL_* environment variables over config.toml and the
// defaults below. The repository adds the config file itself.
func newConfig() *viper.Viper {
	cfg := viper.New()
	cfg.SetEnvPrefix("KLAPCTL")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	cfg.SetDefault(renewalMarginKey, domain.DefaultRenewalMargin)
	cfg.SetDefault(confirmHandshakeKey, true)
	cfg.SetDefault(requestTimeoutKey, 10*time.Second)
	cfg.SetDefault(logLevelKey, "warn")
	cfg.SetDefault(secretsBackendKey, "chain")
	cfg.SetDefault(secretsPassKey, "")

	return cfg
}

func wireSecretStore(cfg *viper.Viper) (ports.SecretStore, error) {
	root := cfg.GetString(secretsPathKey)
	if root == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(homeDir, ".klapctl", "secrets")
	}
	passphrase := cfg.GetString(secretsPassKey)

	switch backend := cfg.GetString(secretsBackendKey); backend {
	case "file":
		if passphrase != "" {
			return filestore.NewSealedStore(root, passphrase), nil
		}
		return filestore.NewStore(root), nil
	case "chain", "":
		store, err := chainstore.NewPassFirstWithFileFallback(root, passphrase)
		if err != nil {
			return nil, fmt.Errorf("wire secret store chain: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend %q", backend)
	}
}

// openClient resolves a device and its password and builds a session client
// bound to it.
func (a *app) openClient(ctx context.Context, id domain.DeviceID) (*application.Client, error) {
	device, err := a.service.OpenDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	transport, err := httpclient.NewClient(device.Address, a.httpClient, a.session.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}

	return application.NewClient(device, transport, a.suite, application.SessionConfig{
		RenewalMargin:    a.session.RenewalMargin,
		SkipConfirmation: !a.session.ConfirmHandshake,
		Logger:           a.logger,
	})
}
