package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voicetel/suitecrm-notifier/internal/config"
	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/logging"
	"github.com/voicetel/suitecrm-notifier/internal/suitecrm"
)

// Server exposes the plugin routes the host platform's frontend consumes:
// the notifications feed, the avatar proxy, ticket search, the OAuth
// connect/redirect pair and the config endpoints.
type Server struct {
	store  database.TokenStore
	crm    *suitecrm.Client
	cfg    *config.Config
	logger *logging.Logger

	// pending OAuth states, state -> host user id
	statesMu sync.Mutex
	states   map[string]string
}

func NewServer(store database.TokenStore, crm *suitecrm.Client, cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		store:  store,
		crm:    crm,
		cfg:    cfg,
		logger: logger,
		states: make(map[string]string),
	}
}

func (s *Server) Router() *gin.Engine {
	if !s.cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Verbose("http",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	})

	r.GET("/healthz", s.healthz)

	// The redirect is hit by the user's browser coming back from
	// SuiteCRM; the state parameter is its protection.
	r.GET("/oauth-connect", s.oauthConnect)
	r.GET("/oauth-redirect", s.oauthRedirect)

	authed := r.Group("/", s.requireAPIKey)
	authed.GET("/notifications", s.notifications)
	authed.GET("/url", s.instanceURL)
	authed.GET("/avatar", s.avatar)
	authed.GET("/tickets/search", s.searchTickets)
	authed.PUT("/config", s.setConfig)
	authed.PUT("/admin-config", s.setAdminConfig)

	return r
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.cfg.HTTP.APIKey == "" {
		c.Next()
		return
	}
	if c.GetHeader("X-Api-Key") != s.cfg.HTTP.APIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
