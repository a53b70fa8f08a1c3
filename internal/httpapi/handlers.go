package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/suitecrm"
)

// notifications returns the user's reconciled upcoming alerts, honoring
// optional since and limit parameters.
func (s *Server) notifications(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := suitecrm.ParseTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = &t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	alerts, err := s.crm.GetAlerts(c.Request.Context(), userID, since, limit)
	if err != nil {
		s.renderAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) instanceURL(c *gin.Context) {
	url, err := s.store.GetAppValue(database.AppKeyInstanceURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read instance url"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) avatar(c *gin.Context) {
	userID := c.Query("user_id")
	crmUserID := c.Query("crm_user_id")
	if userID == "" || crmUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and crm_user_id are required"})
		return
	}

	data, err := s.crm.GetAvatar(c.Request.Context(), userID, crmUserID)
	if err != nil {
		s.renderAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) searchTickets(c *gin.Context) {
	userID := c.Query("user_id")
	query := c.Query("query")
	if userID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and query are required"})
		return
	}

	tickets, err := s.crm.SearchTickets(c.Request.Context(), userID, query)
	if err != nil {
		s.renderAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

type configRequest struct {
	UserID string            `json:"user_id"`
	Values map[string]string `json:"values"`
}

// userConfigKeys are the per-user values the settings UI may write.
var userConfigKeys = map[string]bool{
	database.KeyToken:         true,
	database.KeyRefreshToken:  true,
	database.KeyUserID:        true,
	database.KeyLastOpenCheck: true,
}

func (s *Server) setConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and values are required"})
		return
	}

	for key, value := range req.Values {
		if !userConfigKeys[key] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown config key " + key})
			return
		}
		if err := s.store.SetUserValue(req.UserID, key, value); err != nil {
			s.logger.LogError("failed to set user value", err, "user", req.UserID, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store value"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var adminConfigKeys = map[string]bool{
	database.AppKeyClientID:     true,
	database.AppKeyClientSecret: true,
	database.AppKeyInstanceURL:  true,
}

func (s *Server) setAdminConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "values are required"})
		return
	}

	for key, value := range req.Values {
		if !adminConfigKeys[key] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown config key " + key})
			return
		}
		if err := s.store.SetAppValue(key, value); err != nil {
			s.logger.LogError("failed to set app value", err, "key", key)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store value"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// oauthConnect starts the authorization-code flow for a user and redirects
// the browser to SuiteCRM's authorize endpoint.
func (s *Server) oauthConnect(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	creds, err := database.LoadCredentials(s.store)
	if err != nil || !creds.Complete() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth app is not configured"})
		return
	}

	state := uuid.NewString()
	s.statesMu.Lock()
	s.states[state] = userID
	s.statesMu.Unlock()

	conf := suitecrm.OAuthConfig(creds)
	c.Redirect(http.StatusFound, conf.AuthCodeURL(state))
}

// oauthRedirect finishes the flow: exchanges the code, persists the token
// pair and resolves the CRM-side user id.
func (s *Server) oauthRedirect(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
		return
	}

	s.statesMu.Lock()
	userID, ok := s.states[state]
	delete(s.states, state)
	s.statesMu.Unlock()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown oauth state"})
		return
	}

	creds, err := database.LoadCredentials(s.store)
	if err != nil || !creds.Complete() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "oauth app is not configured"})
		return
	}

	conf := suitecrm.OAuthConfig(creds)
	ctx := c.Request.Context()
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		s.logger.LogError("oauth code exchange failed", err, "user", userID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	if err := s.store.SetUserValue(userID, database.KeyToken, tok.AccessToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store token"})
		return
	}
	if tok.RefreshToken != "" {
		if err := s.store.SetUserValue(userID, database.KeyRefreshToken, tok.RefreshToken); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store refresh token"})
			return
		}
	}

	// Resolve and remember the CRM-side identity while we are here; the
	// dispatcher and the alerts filter both need it.
	if crmUserID, err := s.crm.Me(ctx, userID); err == nil {
		if err := s.store.SetUserValue(userID, database.KeyUserID, crmUserID); err != nil {
			s.logger.LogError("failed to store crm user id", err, "user", userID)
		}
	} else {
		s.logger.LogError("failed to resolve crm user id", err, "user", userID)
	}

	c.JSON(http.StatusOK, gin.H{"status": "connected", "user_id": userID})
}

func (s *Server) renderAPIError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if suitecrm.IsKind(err, suitecrm.KindBadCredentials) || suitecrm.IsKind(err, suitecrm.KindAuthExpired) {
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
