package googlebooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	apperrors "github.com/bookmirror/bookmirror/errors"
)

// Google endpoints. Overridable on OAuth for tests.
const (
	googleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleTokeninfoURL = "https://oauth2.googleapis.com/tokeninfo"
	googleUserinfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// DefaultScopes requests offline access to the user's library plus the
// profile claims we mirror.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/books",
	"openid",
	"email",
	"profile",
}

// Tokeninfo is Google's introspection response for an access token.
type Tokeninfo struct {
	Subject string
	Email   string
	Scope   string
	// Expiry is the absolute token expiry in epoch seconds.
	Expiry int64
}

// Userinfo carries the profile claims we keep on the local user document.
type Userinfo struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	Locale  string `json:"locale"`
}

// OAuth performs the authorization-code and refresh-token exchanges against
// Google. It is stateless and safe for concurrent use.
type OAuth struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client

	// Endpoint URLs, swapped out by tests.
	AuthURL      string
	TokenURL     string
	TokeninfoURL string
	UserinfoURL  string
}

// NewOAuth creates an OAuth client for the given application credentials.
// A nil httpClient falls back to http.DefaultClient.
func NewOAuth(clientID, clientSecret string, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		AuthURL:      googleAuthURL,
		TokenURL:     googleTokenURL,
		TokeninfoURL: googleTokeninfoURL,
		UserinfoURL:  googleUserinfoURL,
	}
}

func (o *OAuth) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.clientID,
		ClientSecret: o.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.AuthURL,
			TokenURL: o.TokenURL,
		},
	}
}

// AuthCodeURL builds the consent-screen URL. Offline access is requested so
// Google issues a refresh token on first consent.
func (o *OAuth) AuthCodeURL(state, redirectURI string) string {
	return o.config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token pair. The refresh token
// may be empty on re-consent; callers must not treat that as an error.
func (o *OAuth) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	tok, err := o.config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, tokenExchangeError("googlebooks.Exchange", err)
	}
	return tok, nil
}

// Refresh trades a refresh token for a fresh access token. Google only
// returns a new refresh token when it rotates the old one.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	src := o.config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenExchangeError("googlebooks.Refresh", err)
	}
	return tok, nil
}

// Tokeninfo introspects an access token for its subject, scope and expiry.
func (o *OAuth) Tokeninfo(ctx context.Context, accessToken string) (*Tokeninfo, error) {
	const op = "googlebooks.Tokeninfo"

	u := o.TokeninfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindTokenExchange, op, nil, err)
	}

	body, provErr := doJSON(o.httpClient, req, apperrors.KindTokenExchange, op)
	if provErr != nil {
		return nil, provErr
	}

	// Google returns exp as a decimal string.
	var raw struct {
		Sub   string      `json:"sub"`
		Email string      `json:"email"`
		Scope string      `json:"scope"`
		Exp   json.Number `json:"exp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindTokenExchange, op, body, err)
	}
	exp, err := raw.Exp.Int64()
	if err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindTokenExchange, op, body, fmt.Errorf("bad exp: %w", err))
	}

	return &Tokeninfo{Subject: raw.Sub, Email: raw.Email, Scope: raw.Scope, Expiry: exp}, nil
}

// Userinfo fetches the OIDC profile for an access token.
func (o *OAuth) Userinfo(ctx context.Context, accessToken string) (*Userinfo, error) {
	const op = "googlebooks.Userinfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.UserinfoURL, nil)
	if err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindUserinfo, op, nil, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, provErr := doJSON(o.httpClient, req, apperrors.KindUserinfo, op)
	if provErr != nil {
		return nil, provErr
	}

	var info Userinfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindUserinfo, op, body, err)
	}
	return &info, nil
}

// tokenExchangeError normalizes an x/oauth2 failure into our taxonomy,
// keeping the provider's raw error body when there is one.
func tokenExchangeError(op string, err error) error {
	if re, ok := err.(*oauth2.RetrieveError); ok {
		return apperrors.NewProviderError(apperrors.KindTokenExchange, op, re.Body, err)
	}
	return apperrors.NewProviderError(apperrors.KindTokenExchange, op, nil, err)
}

// doJSON executes req and returns the response body, mapping transport
// failures, non-2xx statuses and bodies carrying an "error" member to a
// ProviderError of the given kind.
func doJSON(client *http.Client, req *http.Request, kind apperrors.Kind, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.NewProviderError(kind, op, nil, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(kind, op, nil, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewProviderError(kind, op, body, fmt.Errorf("status %d", resp.StatusCode))
	}

	// Google reports most failures as a 200 with an "error" member.
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && len(probe.Error) > 0 {
		return nil, apperrors.NewProviderError(kind, op, body, nil)
	}

	return body, nil
}
