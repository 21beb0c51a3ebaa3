package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"minichat/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubUserEndpoint = "https://api.github.com/user"

// ErrVerification reports a failed external identity assertion: state
// mismatch, code exchange failure, or an unreadable profile.
var ErrVerification = errors.New("github identity verification failed")

// Profile is the subset of the GitHub user object the service needs.
type Profile struct {
	GitHubID string
	Username string
}

// GitHubProvider drives the OAuth code flow against GitHub and fetches
// the authenticated profile.
type GitHubProvider struct {
	oauth       *oauth2.Config
	userURL     string
	httpTimeout time.Duration
}

// NewGitHubProvider builds the provider from app config.
func NewGitHubProvider(cfg config.GitHubConfig) *GitHubProvider {
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     github.Endpoint,
		},
		userURL:     githubUserEndpoint,
		httpTimeout: 10 * time.Second,
	}
}

// LoginURL returns the GitHub authorize URL carrying the given state.
func (p *GitHubProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// CompleteLogin exchanges the callback code and fetches the profile.
// Any failure along the way is reported as ErrVerification so callers
// can treat the whole handshake as a single pass/fail.
func (p *GitHubProvider) CompleteLogin(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, ErrVerification
	}
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", ErrVerification, err)
	}

	client := p.oauth.Client(ctx, token)
	client.Timeout = p.httpTimeout
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build profile request: %v", ErrVerification, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch profile: %v", ErrVerification, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: profile status %d", ErrVerification, resp.StatusCode)
	}

	var body struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode profile: %v", ErrVerification, err)
	}
	if body.ID == 0 {
		return nil, fmt.Errorf("%w: profile missing id", ErrVerification)
	}
	return &Profile{
		GitHubID: strconv.FormatInt(body.ID, 10),
		Username: body.Login,
	}, nil
}

// SetUserURL overrides the profile endpoint. Tests point it at a stub
// server.
func (p *GitHubProvider) SetUserURL(url string) {
	p.userURL = url
}

// SetTokenURL overrides the token exchange endpoint for tests.
func (p *GitHubProvider) SetTokenURL(url string) {
	p.oauth.Endpoint.TokenURL = url
}
