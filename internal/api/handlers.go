package api

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"minichat/internal/auth"
	"minichat/internal/hub"
	"minichat/internal/service/chat"
)

const stateCookieMaxAge = 5 * 60 // seconds

// IdentityProvider abstracts the external OAuth handshake so tests can
// substitute a stub.
type IdentityProvider interface {
	LoginURL(state string) string
	CompleteLogin(ctx context.Context, code string) (*auth.Profile, error)
}

// Handler wires HTTP routes to the chat service, auth gateway, and
// realtime hub.
type Handler struct {
	chat      *chat.Service
	auth      *auth.Service
	provider  IdentityProvider
	hub       *hub.Hub
	staticDir string
	upgrader  websocket.Upgrader
}

// NewHandler constructs a Handler instance.
func NewHandler(chatService *chat.Service, authService *auth.Service, provider IdentityProvider, h *hub.Hub, staticDir string) *Handler {
	return &Handler{
		chat:      chatService,
		auth:      authService,
		provider:  provider,
		hub:       h,
		staticDir: staticDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	optionalUser := h.auth.OptionalUser(h.chat)

	router.GET("/", h.index)
	router.GET("/auth/github", h.beginGitHubLogin)
	router.GET("/auth/github/callback", h.completeGitHubLogin)
	router.GET("/messages", h.recentMessages)
	router.POST("/logout", h.auth.CSRFMiddleware(), h.logout)
	router.GET("/ws", optionalUser, h.serveWebsocket)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (h *Handler) index(c *gin.Context) {
	c.File(filepath.Join(h.staticDir, "index.html"))
}

func (h *Handler) beginGitHubLogin(c *gin.Context) {
	state := uuid.New().String()
	c.SetCookie(h.auth.StateCookieName(), state, stateCookieMaxAge, "/", "", gin.Mode() == gin.ReleaseMode, true)
	c.Redirect(http.StatusTemporaryRedirect, h.provider.LoginURL(state))
}

// completeGitHubLogin finishes the handshake: verify state, exchange
// the code, find-or-create the local user, and bind the session. Every
// failure redirects back to the landing page unauthenticated.
func (h *Handler) completeGitHubLogin(c *gin.Context) {
	state := c.Query("state")
	cookieState, err := c.Cookie(h.auth.StateCookieName())
	c.SetCookie(h.auth.StateCookieName(), "", -1, "/", "", gin.Mode() == gin.ReleaseMode, true)
	if err != nil || state == "" || state != cookieState {
		log.Printf("github callback: state mismatch")
		c.Redirect(http.StatusTemporaryRedirect, "/")
		return
	}

	profile, err := h.provider.CompleteLogin(c.Request.Context(), c.Query("code"))
	if err != nil {
		log.Printf("github callback: %v", err)
		c.Redirect(http.StatusTemporaryRedirect, "/")
		return
	}

	user, err := h.chat.FindOrCreateUser(c.Request.Context(), profile.GitHubID, profile.Username)
	if err != nil {
		log.Printf("github callback: resolve user: %v", err)
		c.Redirect(http.StatusTemporaryRedirect, "/")
		return
	}

	token, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		log.Printf("github callback: issue token: %v", err)
		c.Redirect(http.StatusTemporaryRedirect, "/")
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		log.Printf("github callback: csrf token: %v", err)
		c.Redirect(http.StatusTemporaryRedirect, "/")
		return
	}
	maxAge := int(h.auth.TokenTTL().Seconds())
	h.setSessionCookie(c, token, maxAge)
	h.setCSRFCookie(c, csrfToken, maxAge)
	c.Redirect(http.StatusTemporaryRedirect, "/")
}

func (h *Handler) recentMessages(c *gin.Context) {
	messages, err := h.chat.RecentMessages(c.Request.Context(), chat.DefaultHistoryLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message history unavailable"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// logout clears the session binding. It succeeds whether or not a
// session existed.
func (h *Handler) logout(c *gin.Context) {
	if token, err := c.Cookie(h.auth.CookieName()); err == nil && token != "" {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			log.Printf("logout: revoke token: %v", err)
		}
	}
	h.setSessionCookie(c, "", -1)
	h.setCSRFCookie(c, "", -1)
	c.Redirect(http.StatusSeeOther, "/")
}

// serveWebsocket upgrades the connection and admits it into the hub.
// The optional user was resolved by middleware; unauthenticated
// connections are admitted with no bound user.
func (h *Handler) serveWebsocket(c *gin.Context) {
	user := auth.CurrentUser(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("websocket upgrade: %v", err)
		return
	}
	h.hub.Register(hub.NewClient(h.hub, conn, user))
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CookieName(),
		Value:    token,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
	})
}

// setCSRFCookie writes the csrf token without HttpOnly; page scripts
// read it back and echo it in the csrf header on mutating requests.
func (h *Handler) setCSRFCookie(c *gin.Context, token string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    token,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
	})
}
