// Package remote implements auth.IdentityProvider against a REST identity
// service that issues HS256-signed id tokens.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// Identity service endpoints, relative to the base URL.
const (
	signInPath  = "/v1/accounts:signInWithPassword"
	signOutPath = "/v1/accounts:signOut"
)

// DefaultTimeout bounds a single identity service request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the identity service root, e.g. "https://id.example.com".
	BaseURL string
	// APIKey is sent as the "key" query parameter when set.
	APIKey string
	// SigningKey verifies id token signatures (HS256).
	SigningKey []byte
	// Issuer is the required "iss" claim. Empty disables the check.
	Issuer string
	// Timeout bounds each request. Default: 10s.
	Timeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the identity service. It is safe for concurrent use and
// is shared by every Provider of a process.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  *tokenVerifier
	logger  *slog.Logger
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote identity provider: base URL is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("remote identity provider: signing key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		tokens:  &tokenVerifier{key: cfg.SigningKey, issuer: cfg.Issuer},
		logger:  cfg.Logger,
	}, nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	IDToken     string `json:"idToken"`
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

type signOutRequest struct {
	IDToken string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn exchanges an email and password for a verified identity and its
// id token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.Identity, string, error) {
	var resp signInResponse
	err := c.post(ctx, signInPath, signInRequest{Email: email, Password: password, ReturnSecureToken: true}, &resp)
	if err != nil {
		return nil, "", err
	}
	if resp.IDToken == "" {
		return nil, "", fmt.Errorf("%w: sign-in response has no id token", auth.ErrProviderUnavailable)
	}

	identity, err := c.VerifyToken(resp.IDToken)
	if err != nil {
		// A token we cannot verify means the service and our key disagree.
		return nil, "", fmt.Errorf("%w: issued token failed verification: %v", auth.ErrProviderUnavailable, err)
	}
	if resp.LocalID != "" && resp.LocalID != identity.ID {
		return nil, "", fmt.Errorf("%w: token subject does not match account", auth.ErrProviderUnavailable)
	}
	if identity.DisplayName == "" {
		identity.DisplayName = resp.DisplayName
	}
	if identity.PhotoURL == "" {
		identity.PhotoURL = resp.PhotoURL
	}
	if identity.Email == "" {
		identity.Email = auth.NormalizeEmail(resp.Email)
	}
	return identity, resp.IDToken, nil
}

// SignOut revokes idToken at the identity service.
func (c *Client) SignOut(ctx context.Context, idToken string) error {
	return c.post(ctx, signOutPath, signOutRequest{IDToken: idToken}, nil)
}

// VerifyToken checks an id token's signature, issuer and expiry and returns
// the identity it carries. Identities from tokens carry no role.
func (c *Client) VerifyToken(token string) (*auth.Identity, error) {
	identity, _, err := c.tokens.verify(token)
	return identity, err
}

// tokenExpiry verifies token and returns when it expires.
func (c *Client) tokenExpiry(token string) (time.Time, error) {
	_, exp, err := c.tokens.verify(token)
	return exp, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + path
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", auth.ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", auth.ErrProviderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := classifyResponse(resp.StatusCode, data)
		c.logger.Debug("identity service request failed", "path", path, "status", resp.StatusCode, "error", err)
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", auth.ErrProviderUnavailable, err)
	}
	return nil
}

// classifyResponse maps a non-200 identity service response onto the login
// failure taxonomy.
func classifyResponse(status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: identity service returned %d", auth.ErrProviderUnavailable, status)
	}

	var e errorResponse
	_ = json.Unmarshal(body, &e)
	// Messages may carry detail after the code: "INVALID_PASSWORD : ...".
	code, _, _ := strings.Cut(strings.TrimSpace(e.Error.Message), " ")

	switch code {
	case "INVALID_LOGIN_CREDENTIALS", "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_EMAIL", "INVALID_ID_TOKEN":
		return fmt.Errorf("%w: %s", auth.ErrInvalidCredentials, code)
	case "USER_DISABLED":
		return fmt.Errorf("%w: %s", auth.ErrAccountSuspended, code)
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return fmt.Errorf("%w: %s", auth.ErrProviderUnavailable, code)
	case "":
		return fmt.Errorf("%w: identity service returned %d", auth.ErrProviderUnavailable, status)
	default:
		return fmt.Errorf("%w: identity service error %s", auth.ErrProviderUnavailable, code)
	}
}
