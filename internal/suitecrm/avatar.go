package suitecrm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/voicetel/suitecrm-notifier/internal/database"
)

// GetAvatar fetches a user photo through SuiteCRM's download entry point.
// It goes through the same refresh-on-401 path as every other request.
func (c *Client) GetAvatar(ctx context.Context, userID, crmUserID string) ([]byte, error) {
	creds, err := database.LoadCredentials(c.store)
	if err != nil {
		return nil, transportErr("failed to load app credentials", err)
	}

	fullURL := strings.TrimRight(creds.BaseURL, "/") +
		"/index.php?entryPoint=download&id=" + url.QueryEscape(crmUserID+"_photo") + "&type=Users"

	status, body, apiErr := c.doAuthenticated(ctx, userID, creds, http.MethodGet, fullURL, nil, "")
	if apiErr != nil {
		return nil, apiErr
	}
	if status >= 400 {
		return nil, badCredentials(status)
	}
	return body, nil
}
