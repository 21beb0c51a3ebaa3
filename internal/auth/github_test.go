package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"minichat/internal/config"
)

func TestLoginURLCarriesState(t *testing.T) {
	provider := NewGitHubProvider(config.GitHubConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:3000/auth/github/callback",
	})
	url := provider.LoginURL("state-abc")
	if !strings.Contains(url, "state=state-abc") {
		t.Fatalf("login url missing state: %s", url)
	}
	if !strings.Contains(url, "client_id=client-id") {
		t.Fatalf("login url missing client id: %s", url)
	}
}

func TestCompleteLoginFetchesProfile(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer"}`)
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-token") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":424242,"login":"octocat"}`)
	}))
	defer userSrv.Close()

	provider := newTestProvider(tokenSrv.URL, userSrv.URL)
	profile, err := provider.CompleteLogin(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if profile.GitHubID != "424242" {
		t.Fatalf("expected github id 424242, got %s", profile.GitHubID)
	}
	if profile.Username != "octocat" {
		t.Fatalf("expected username octocat, got %s", profile.Username)
	}
}

func TestCompleteLoginEmptyCode(t *testing.T) {
	provider := NewGitHubProvider(config.GitHubConfig{ClientID: "id", ClientSecret: "secret"})
	if _, err := provider.CompleteLogin(context.Background(), ""); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
}

func TestCompleteLoginExchangeFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer tokenSrv.Close()

	provider := newTestProvider(tokenSrv.URL, "http://unused.invalid")
	if _, err := provider.CompleteLogin(context.Background(), "bad-code"); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
}

func TestCompleteLoginProfileNotOK(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","token_type":"bearer"}`)
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer userSrv.Close()

	provider := newTestProvider(tokenSrv.URL, userSrv.URL)
	if _, err := provider.CompleteLogin(context.Background(), "good-code"); !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
}

func newTestProvider(tokenURL, userURL string) *GitHubProvider {
	provider := NewGitHubProvider(config.GitHubConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:3000/auth/github/callback",
	})
	provider.SetTokenURL(tokenURL)
	provider.SetUserURL(userURL)
	return provider
}
