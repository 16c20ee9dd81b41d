package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/angeloszaimis/llm-starter/internal/environment"
)

type Mode string

const (
	ModeSimple      Mode = "simple"
	ModeAdvanced    Mode = "advanced"
	ModeDevelopment Mode = "development"
	ModeTest        Mode = "test"
)

const (
	MethodAPIKey      = "api_key"
	MethodBearer      = "bearer"
	MethodJWT         = "jwt"
	MethodDevelopment = "development"
	MethodNone        = "none"
)

const (
	KeyTypePrimary     = "primary"
	KeyTypeAdditional  = "additional"
	KeyTypeJWT         = "jwt"
	KeyTypeDevelopment = "development"
)

const minJWTSecretLength = 32

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoKeysInProduction = errors.New("no API keys configured in production")
	ErrInsecureMode       = errors.New("auth mode not allowed in production")
	ErrInvalidMode        = errors.New("invalid auth mode")
	ErrTokensDisabled     = errors.New("token issuing requires advanced mode with a JWT secret")
)

// ParseMode maps a configuration value onto a Mode. An empty value is simple.
func ParseMode(value string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return ModeSimple, nil
	case ModeSimple, ModeAdvanced, ModeDevelopment, ModeTest:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, value)
	}
}

type Config struct {
	Mode                 Mode
	APIKey               string
	AdditionalKeys       []string
	EnableUserTracking   bool
	EnableRequestLogging bool
	JWTSecret            string
	Environment          environment.Environment
}

type KeyInfo struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	Permissions []string  `json:"permissions"`
}

// Principal describes who made a request.
type Principal struct {
	Authenticated bool              `json:"authenticated"`
	Method        string            `json:"method"`
	KeyID         string            `json:"key_id,omitempty"`
	Subject       string            `json:"subject,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Status struct {
	Mode             Mode                    `json:"mode"`
	Environment      environment.Environment `json:"environment"`
	KeysConfigured   int                     `json:"keys_configured"`
	UserTracking     bool                    `json:"user_tracking"`
	RequestLogging   bool                    `json:"request_logging"`
	JWTEnabled       bool                    `json:"jwt_enabled"`
	ProductionSecure bool                    `json:"production_secure"`
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type Option func(*APIKeyAuth)

func WithErrorHandler(h ErrorHandler) Option {
	return func(a *APIKeyAuth) { a.onError = h }
}

func WithClock(now func() time.Time) Option {
	return func(a *APIKeyAuth) { a.now = now }
}

type keyEntry struct {
	raw  []byte
	info KeyInfo
}

type keySet struct {
	entries []keyEntry
}

// lookup compares key against every entry so the time taken does not
// depend on which key matched.
func (ks *keySet) lookup(key string) (KeyInfo, bool) {
	var (
		found KeyInfo
		ok    bool
	)
	candidate := []byte(key)
	for _, e := range ks.entries {
		if subtle.ConstantTimeCompare(candidate, e.raw) == 1 {
			found, ok = e.info, true
		}
	}
	return found, ok
}

type APIKeyAuth struct {
	cfg     Config
	logger  *slog.Logger
	keys    atomic.Pointer[keySet]
	now     func() time.Time
	onError ErrorHandler
}

// NewAPIKeyAuth validates cfg against the environment and loads its keys.
// Production refuses development and test modes and requires at least one
// key.
func NewAPIKeyAuth(cfg Config, logger *slog.Logger, opts ...Option) (*APIKeyAuth, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSimple
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	a := &APIKeyAuth{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		onError: writeUnauthorized,
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Environment == environment.Production && a.devMode() {
		return nil, fmt.Errorf("%w: %s", ErrInsecureMode, cfg.Mode)
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d bytes", minJWTSecretLength)
	}

	ks := a.buildKeySet(cfg.APIKey, cfg.AdditionalKeys)
	if cfg.Environment == environment.Production && len(ks.entries) == 0 {
		return nil, ErrNoKeysInProduction
	}
	a.keys.Store(ks)

	logger.Info("Authentication configured",
		slog.String("mode", string(cfg.Mode)),
		slog.Int("keys", len(ks.entries)),
		slog.String("environment", string(cfg.Environment)))

	return a, nil
}

func (a *APIKeyAuth) buildKeySet(primary string, additional []string) *keySet {
	ks := &keySet{}
	seen := make(map[string]struct{})
	created := a.now()

	add := func(key, keyType string) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		ks.entries = append(ks.entries, keyEntry{
			raw: []byte(key),
			info: KeyInfo{
				ID:          KeyID(key),
				Type:        keyType,
				CreatedAt:   created,
				Permissions: []string{"read", "write"},
			},
		})
	}

	add(primary, KeyTypePrimary)
	for _, key := range additional {
		add(key, KeyTypeAdditional)
	}
	return ks
}

// KeyID returns a short, non-reversible identifier for key.
func KeyID(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:8]
}

// Verify reports whether key is one of the configured keys.
func (a *APIKeyAuth) Verify(key string) bool {
	if key == "" {
		return false
	}
	_, ok := a.keys.Load().lookup(key)
	return ok
}

// Authenticate resolves the principal behind r.
func (a *APIKeyAuth) Authenticate(r *http.Request) (Principal, error) {
	ks := a.keys.Load()
	if len(ks.entries) == 0 && a.allowsAnonymous() {
		return Principal{
			Authenticated: true,
			Method:        MethodDevelopment,
			KeyID:         KeyTypeDevelopment,
		}, nil
	}

	credential, bearer := credentials(r)
	if credential == "" {
		return Principal{Method: MethodNone}, ErrMissingCredentials
	}

	if info, ok := ks.lookup(credential); ok {
		method := MethodAPIKey
		if bearer {
			method = MethodBearer
		}
		p := Principal{
			Authenticated: true,
			Method:        method,
			KeyID:         info.ID,
		}
		a.track(&p, r, info.Type)
		return p, nil
	}

	if bearer && a.tokensEnabled() {
		claims, err := a.parseToken(credential)
		if err == nil {
			p := Principal{
				Authenticated: true,
				Method:        MethodJWT,
				KeyID:         claims.ID,
				Subject:       claims.Subject,
			}
			a.track(&p, r, KeyTypeJWT)
			return p, nil
		}
		a.logger.Debug("Rejected bearer token", slog.Any("err", err))
	}

	return Principal{Method: MethodNone}, ErrInvalidCredentials
}

// Status summarises the active configuration without exposing keys.
func (a *APIKeyAuth) Status() Status {
	keys := len(a.keys.Load().entries)
	return Status{
		Mode:             a.cfg.Mode,
		Environment:      a.cfg.Environment,
		KeysConfigured:   keys,
		UserTracking:     a.cfg.EnableUserTracking,
		RequestLogging:   a.cfg.EnableRequestLogging,
		JWTEnabled:       a.tokensEnabled(),
		ProductionSecure: keys > 0 && !a.devMode(),
	}
}

// Keys lists the configured keys by id.
func (a *APIKeyAuth) Keys() []KeyInfo {
	entries := a.keys.Load().entries
	out := make([]KeyInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info)
	}
	return out
}

// ReloadKeys swaps the key set in one step. In production an empty key set
// is refused and the current keys stay active.
func (a *APIKeyAuth) ReloadKeys(primary string, additional []string) error {
	ks := a.buildKeySet(primary, additional)
	if a.cfg.Environment == environment.Production && len(ks.entries) == 0 {
		return ErrNoKeysInProduction
	}
	a.keys.Store(ks)
	a.logger.Info("API keys reloaded", slog.Int("keys", len(ks.entries)))
	return nil
}

func (a *APIKeyAuth) Mode() Mode {
	return a.cfg.Mode
}

func (a *APIKeyAuth) devMode() bool {
	return a.cfg.Mode == ModeDevelopment || a.cfg.Mode == ModeTest
}

func (a *APIKeyAuth) allowsAnonymous() bool {
	if a.devMode() {
		return true
	}
	return a.cfg.Mode == ModeSimple && a.cfg.Environment != environment.Production
}

func (a *APIKeyAuth) track(p *Principal, r *http.Request, keyType string) {
	if a.cfg.Mode != ModeAdvanced {
		return
	}

	if a.cfg.EnableUserTracking {
		p.Metadata = map[string]string{
			"key_type":   keyType,
			"client_ip":  ClientIP(r),
			"user_agent": r.UserAgent(),
			"timestamp":  a.now().UTC().Format(time.RFC3339),
		}
	}

	if a.cfg.EnableRequestLogging {
		a.logger.Info("Authenticated request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("auth_method", p.Method),
			slog.String("key_id", p.KeyID))
	}
}

// credentials extracts the key from Authorization: Bearer or X-API-Key.
// The boolean reports whether it came from a bearer header.
func credentials(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if v := strings.TrimSpace(value); v != "" {
				return v, true
			}
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key")), false
}

