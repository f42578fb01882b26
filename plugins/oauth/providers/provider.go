// Package providers configures the OAuth 2.0 providers supported by the
// oauth plugin. Each provider is an oauth2.Config plus the request that
// returns the signed-in user's raw profile.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"golang.org/x/oauth2"
)

// maxProfileSize bounds user info responses
const maxProfileSize = 1 << 20

var (
	// ErrUnknownProvider is returned by New for an unregistered provider ID
	ErrUnknownProvider = errors.New("unknown oauth provider")

	// ErrMissingClientID is returned when Options has no ClientID
	ErrMissingClientID = errors.New("client ID is required")

	// ErrMissingClientSecret is returned when a confidential client has no secret
	ErrMissingClientSecret = errors.New("client secret is required")
)

// Provider is a configured OAuth 2.0 provider
type Provider struct {
	ID     string
	Name   string
	Config oauth2.Config

	// PKCE providers are driven with a code verifier
	PKCE bool

	// FormPost providers redirect back with a cross-site POST
	FormPost bool

	UserInfoURL string

	// UserInfoMethod defaults to GET
	UserInfoMethod string

	// Header is added to the user info request
	Header http.Header

	// AuthParams are added to every authorization URL
	AuthParams []oauth2.AuthCodeOption

	// ClientSecret signs a fresh client secret for each exchange
	ClientSecret func() (string, error)

	// Fetch replaces the user info request
	Fetch func(ctx context.Context, token *oauth2.Token) ([]byte, error)
}

// Options holds the credentials of a provider
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scopes replace the provider's default scopes
	Scopes []string

	// Domain is the tenant host of auth0, gitlab and salesforce
	Domain string

	// Tenant is the Azure AD tenant, "common" when empty
	Tenant string

	// UserAgent is sent to APIs that require one (reddit)
	UserAgent string

	Apple *AppleOptions
}

// Factory builds a provider from its options
type Factory func(opts Options) (*Provider, error)

var registry = map[string]Factory{
	"auth0":      Auth0,
	"apple":      Apple,
	"azureAD":    AzureAD,
	"box":        Box,
	"discord":    Discord,
	"dropbox":    Dropbox,
	"facebook":   Facebook,
	"github":     GitHub,
	"gitlab":     GitLab,
	"google":     Google,
	"lichess":    Lichess,
	"line":       Line,
	"linkedIn":   LinkedIn,
	"osu":        Osu,
	"patreon":    Patreon,
	"reddit":     Reddit,
	"salesforce": Salesforce,
	"slack":      Slack,
	"spotify":    Spotify,
	"twitch":     Twitch,
	"twitter":    Twitter,
}

// New builds the provider registered under id
func New(id string, opts Options) (*Provider, error) {
	factory, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return factory(opts)
}

// IDs lists the registered provider IDs in order
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OAuth2Config returns the config to use for one authorization round trip
func (p *Provider) OAuth2Config() (*oauth2.Config, error) {
	cfg := p.Config
	if p.ClientSecret != nil {
		secret, err := p.ClientSecret()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to create client secret: %w", p.ID, err)
		}
		cfg.ClientSecret = secret
	}
	return &cfg, nil
}

// FetchProfile returns the raw user info document of the token's owner
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) ([]byte, error) {
	if p.Fetch != nil {
		return p.Fetch(ctx, token)
	}

	method := p.UserInfoMethod
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create user info request: %w", p.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range p.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := p.Config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get user info: %w", p.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileSize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read user info: %w", p.ID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: user info request failed with status %d: %s", p.ID, resp.StatusCode, body)
	}

	return body, nil
}

func newProvider(id, name string, opts Options, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) *Provider {
	if len(opts.Scopes) > 0 {
		scopes = opts.Scopes
	}

	return &Provider{
		ID:   id,
		Name: name,
		Config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		UserInfoURL: userInfoURL,
	}
}

func requireCredentials(id string, opts Options, secret bool) error {
	if opts.ClientID == "" {
		return fmt.Errorf("%s: %w", id, ErrMissingClientID)
	}
	if secret && opts.ClientSecret == "" {
		return fmt.Errorf("%s: %w", id, ErrMissingClientSecret)
	}
	return nil
}
