package providers

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Auth0 signs users in through an Auth0 tenant. Domain is required.
func Auth0(opts Options) (*Provider, error) {
	if err := requireCredentials("auth0", opts, true); err != nil {
		return nil, err
	}
	if opts.Domain == "" {
		return nil, fmt.Errorf("auth0: domain is required")
	}

	base := domainURL(opts.Domain)
	return newProvider("auth0", "Auth0", opts, oauth2.Endpoint{
		AuthURL:  base + "/authorize",
		TokenURL: base + "/oauth/token",
	}, []string{"openid", "profile", "email"}, base+"/userinfo"), nil
}

// AzureAD signs users in with Microsoft Entra ID
func AzureAD(opts Options) (*Provider, error) {
	if err := requireCredentials("azureAD", opts, true); err != nil {
		return nil, err
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = "common"
	}

	p := newProvider("azureAD", "Azure AD", opts, endpoints.AzureAD(tenant),
		[]string{"openid", "profile", "email"}, "https://graph.microsoft.com/oidc/userinfo")
	p.PKCE = true
	return p, nil
}

func Box(opts Options) (*Provider, error) {
	if err := requireCredentials("box", opts, true); err != nil {
		return nil, err
	}
	return newProvider("box", "Box", opts, oauth2.Endpoint{
		AuthURL:  "https://account.box.com/api/oauth2/authorize",
		TokenURL: "https://api.box.com/oauth2/token",
	}, nil, "https://api.box.com/2.0/users/me"), nil
}

func Discord(opts Options) (*Provider, error) {
	if err := requireCredentials("discord", opts, true); err != nil {
		return nil, err
	}
	return newProvider("discord", "Discord", opts, oauth2.Endpoint{
		AuthURL:  "https://discord.com/oauth2/authorize",
		TokenURL: "https://discord.com/api/oauth2/token",
	}, []string{"identify", "email"}, "https://discord.com/api/users/@me"), nil
}

// Dropbox reads the account with a POST to the RPC endpoint
func Dropbox(opts Options) (*Provider, error) {
	if err := requireCredentials("dropbox", opts, true); err != nil {
		return nil, err
	}

	p := newProvider("dropbox", "Dropbox", opts, oauth2.Endpoint{
		AuthURL:  "https://www.dropbox.com/oauth2/authorize",
		TokenURL: "https://api.dropboxapi.com/oauth2/token",
	}, []string{"account_info.read"}, "https://api.dropboxapi.com/2/users/get_current_account")
	p.UserInfoMethod = http.MethodPost
	return p, nil
}

func Facebook(opts Options) (*Provider, error) {
	if err := requireCredentials("facebook", opts, true); err != nil {
		return nil, err
	}
	return newProvider("facebook", "Facebook", opts, endpoints.Facebook,
		[]string{"public_profile", "email"}, "https://graph.facebook.com/me?fields=id,name,email"), nil
}

func GitHub(opts Options) (*Provider, error) {
	if err := requireCredentials("github", opts, true); err != nil {
		return nil, err
	}

	p := newProvider("github", "GitHub", opts, endpoints.GitHub,
		[]string{"read:user", "user:email"}, "https://api.github.com/user")
	p.Header = http.Header{"X-GitHub-Api-Version": {"2022-11-28"}}
	return p, nil
}

// GitLab signs users in on gitlab.com or the self-managed instance in Domain
func GitLab(opts Options) (*Provider, error) {
	if err := requireCredentials("gitlab", opts, true); err != nil {
		return nil, err
	}

	domain := opts.Domain
	if domain == "" {
		domain = "gitlab.com"
	}
	base := domainURL(domain)
	return newProvider("gitlab", "GitLab", opts, oauth2.Endpoint{
		AuthURL:  base + "/oauth/authorize",
		TokenURL: base + "/oauth/token",
	}, []string{"read_user"}, base+"/api/v4/user"), nil
}

func Google(opts Options) (*Provider, error) {
	if err := requireCredentials("google", opts, true); err != nil {
		return nil, err
	}
	return newProvider("google", "Google", opts, endpoints.Google,
		[]string{"openid", "profile", "email"}, "https://openidconnect.googleapis.com/v1/userinfo"), nil
}

// Lichess is a public client: it uses PKCE and has no secret
func Lichess(opts Options) (*Provider, error) {
	if err := requireCredentials("lichess", opts, false); err != nil {
		return nil, err
	}

	p := newProvider("lichess", "Lichess", opts, oauth2.Endpoint{
		AuthURL:   "https://lichess.org/oauth",
		TokenURL:  "https://lichess.org/api/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, nil, "https://lichess.org/api/account")
	p.PKCE = true
	return p, nil
}

func Line(opts Options) (*Provider, error) {
	if err := requireCredentials("line", opts, true); err != nil {
		return nil, err
	}
	return newProvider("line", "LINE", opts, oauth2.Endpoint{
		AuthURL:   "https://access.line.me/oauth2/v2.1/authorize",
		TokenURL:  "https://api.line.me/oauth2/v2.1/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, []string{"profile", "openid"}, "https://api.line.me/v2/profile"), nil
}

func LinkedIn(opts Options) (*Provider, error) {
	if err := requireCredentials("linkedIn", opts, true); err != nil {
		return nil, err
	}
	return newProvider("linkedIn", "LinkedIn", opts, oauth2.Endpoint{
		AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
		AuthStyle: oauth2.AuthStyleInParams,
	}, []string{"openid", "profile", "email"}, "https://api.linkedin.com/v2/userinfo"), nil
}

func Osu(opts Options) (*Provider, error) {
	if err := requireCredentials("osu", opts, true); err != nil {
		return nil, err
	}
	return newProvider("osu", "osu!", opts, oauth2.Endpoint{
		AuthURL:  "https://osu.ppy.sh/oauth/authorize",
		TokenURL: "https://osu.ppy.sh/oauth/token",
	}, []string{"identify"}, "https://osu.ppy.sh/api/v2/me"), nil
}

func Patreon(opts Options) (*Provider, error) {
	if err := requireCredentials("patreon", opts, true); err != nil {
		return nil, err
	}
	return newProvider("patreon", "Patreon", opts, oauth2.Endpoint{
		AuthURL:  "https://www.patreon.com/oauth2/authorize",
		TokenURL: "https://www.patreon.com/api/oauth2/token",
	}, []string{"identity"}, "https://www.patreon.com/api/oauth2/v2/identity?fields%5Buser%5D=full_name,email"), nil
}

// Reddit rejects API requests without a User-Agent
func Reddit(opts Options) (*Provider, error) {
	if err := requireCredentials("reddit", opts, true); err != nil {
		return nil, err
	}

	p := newProvider("reddit", "Reddit", opts, oauth2.Endpoint{
		AuthURL:   "https://www.reddit.com/api/v1/authorize",
		TokenURL:  "https://www.reddit.com/api/v1/access_token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}, []string{"identity"}, "https://oauth.reddit.com/api/v1/me")

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "beaconauth"
	}
	p.Header = http.Header{"User-Agent": {userAgent}}
	return p, nil
}

// Salesforce signs users in on login.salesforce.com or the My Domain in Domain
func Salesforce(opts Options) (*Provider, error) {
	if err := requireCredentials("salesforce", opts, true); err != nil {
		return nil, err
	}

	domain := opts.Domain
	if domain == "" {
		domain = "login.salesforce.com"
	}
	base := domainURL(domain)

	return newProvider("salesforce", "Salesforce", opts, oauth2.Endpoint{
		AuthURL:  base + "/services/oauth2/authorize",
		TokenURL: base + "/services/oauth2/token",
	}, []string{"openid", "profile"}, base+"/services/oauth2/userinfo"), nil
}

// Slack uses Sign in with Slack (OpenID Connect)
func Slack(opts Options) (*Provider, error) {
	if err := requireCredentials("slack", opts, true); err != nil {
		return nil, err
	}
	return newProvider("slack", "Slack", opts, oauth2.Endpoint{
		AuthURL:  "https://slack.com/openid/connect/authorize",
		TokenURL: "https://slack.com/api/openid.connect.token",
	}, []string{"openid", "profile", "email"}, "https://slack.com/api/openid.connect.userInfo"), nil
}

func Spotify(opts Options) (*Provider, error) {
	if err := requireCredentials("spotify", opts, true); err != nil {
		return nil, err
	}
	return newProvider("spotify", "Spotify", opts, endpoints.Spotify,
		[]string{"user-read-email"}, "https://api.spotify.com/v1/me"), nil
}

// Twitch requires the client ID on every Helix request
func Twitch(opts Options) (*Provider, error) {
	if err := requireCredentials("twitch", opts, true); err != nil {
		return nil, err
	}

	p := newProvider("twitch", "Twitch", opts, endpoints.Twitch,
		[]string{"user:read:email"}, "https://api.twitch.tv/helix/users")
	p.Header = http.Header{"Client-Id": {opts.ClientID}}
	return p, nil
}

// Twitter uses OAuth 2.0 with PKCE
func Twitter(opts Options) (*Provider, error) {
	if err := requireCredentials("twitter", opts, true); err != nil {
		return nil, err
	}

	p := newProvider("twitter", "Twitter", opts, oauth2.Endpoint{
		AuthURL:   "https://twitter.com/i/oauth2/authorize",
		TokenURL:  "https://api.twitter.com/2/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}, []string{"users.read", "tweet.read"}, "https://api.twitter.com/2/users/me")
	p.PKCE = true
	return p, nil
}

func domainURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + strings.TrimRight(domain, "/")
}
