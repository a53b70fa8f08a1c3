package suitecrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/logging"
	"github.com/voicetel/suitecrm-notifier/internal/models"
)

const (
	userAgent     = "suitecrm-notifier"
	apiV8Path     = "/Api/index.php/V8/"
	tokenPath     = "/Api/access_token"
	authorizePath = "/index.php?module=OAuth2&action=authorize"
)

// Client talks to the SuiteCRM V8 REST API on behalf of linked users.
// It is the only component that writes tokens back to the store.
type Client struct {
	store  database.TokenStore
	http   *http.Client
	logger *logging.Logger

	// now is replaceable for tests
	now func() time.Time
}

func NewClient(store database.TokenStore, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		store:  store,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// OAuthConfig builds the oauth2 endpoint description for a SuiteCRM
// instance. Client credentials go in the request body, which is what
// SuiteCRM's token endpoint expects.
func OAuthConfig(creds models.Credentials) *oauth2.Config {
	base := strings.TrimRight(creds.BaseURL, "/")
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + authorizePath,
			TokenURL:  base + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Request performs an authenticated call against a V8 resource endpoint and
// decodes the JSON response. A 401 triggers one token refresh followed by
// one retry of the original request; any other status >= 400 is
// BadCredentials.
func (c *Client) Request(ctx context.Context, userID, endpoint string, params map[string]any, method string) (any, error) {
	creds, err := database.LoadCredentials(c.store)
	if err != nil {
		return nil, transportErr("failed to load app credentials", err)
	}

	fullURL := strings.TrimRight(creds.BaseURL, "/") + apiV8Path + endpoint
	var body []byte
	contentType := ""
	if len(params) > 0 {
		if method == http.MethodGet {
			fullURL += "?" + encodeQuery(params)
		} else {
			body = []byte(encodeQuery(params))
			contentType = "application/x-www-form-urlencoded"
		}
	}

	status, respBody, apiErr := c.doAuthenticated(ctx, userID, creds, method, fullURL, body, contentType)
	if apiErr != nil {
		return nil, apiErr
	}
	if status >= 400 {
		return nil, badCredentials(status)
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, malformed("response is not valid JSON")
	}
	return decoded, nil
}

// doAuthenticated sends the request with the user's current access token,
// refreshing once on 401 and replaying the original request. The retried
// request is never refreshed again.
func (c *Client) doAuthenticated(ctx context.Context, userID string, creds models.Credentials, method, fullURL string, body []byte, contentType string) (int, []byte, *APIError) {
	accessToken, err := c.store.GetUserValue(userID, database.KeyToken)
	if err != nil {
		return 0, nil, transportErr("failed to read access token", err)
	}

	status, respBody, err := c.do(ctx, method, fullURL, accessToken, body, contentType)
	if err != nil {
		return 0, nil, transportErr("request failed", err)
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("access token rejected, refreshing", "user", userID)
		newToken, apiErr := c.refreshAccessToken(ctx, userID, creds)
		if apiErr != nil {
			return 0, nil, apiErr
		}
		status, respBody, err = c.do(ctx, method, fullURL, newToken, body, contentType)
		if err != nil {
			return 0, nil, transportErr("retried request failed", err)
		}
	}

	return status, respBody, nil
}

func (c *Client) do(ctx context.Context, method, fullURL, accessToken string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// refreshAccessToken exchanges the stored refresh token for a fresh token
// pair and persists both before the caller retries.
func (c *Client) refreshAccessToken(ctx context.Context, userID string, creds models.Credentials) (string, *APIError) {
	refreshToken, err := c.store.GetUserValue(userID, database.KeyRefreshToken)
	if err != nil {
		return "", transportErr("failed to read refresh token", err)
	}
	if refreshToken == "" {
		return "", &APIError{Kind: KindAuthExpired, Message: "access token expired and no refresh token is stored"}
	}

	conf := OAuthConfig(creds)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", transportErr("token refresh failed", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return "", transportErr("token endpoint returned an incomplete token pair", nil)
	}

	if err := c.store.SetUserValue(userID, database.KeyToken, tok.AccessToken); err != nil {
		return "", transportErr("failed to persist access token", err)
	}
	if err := c.store.SetUserValue(userID, database.KeyRefreshToken, tok.RefreshToken); err != nil {
		return "", transportErr("failed to persist refresh token", err)
	}

	c.logger.Info("access token refreshed", "user", userID)
	return tok.AccessToken, nil
}

// Me resolves the SuiteCRM-side id of the calling user via users/me.
func (c *Client) Me(ctx context.Context, userID string) (string, error) {
	raw, err := c.Request(ctx, userID, "users/me", nil, http.MethodGet)
	if err != nil {
		return "", err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return "", malformed("users/me did not return an object")
	}
	id, _ := obj["id"].(string)
	if id == "" {
		return "", malformed("users/me response has no id")
	}
	return id, nil
}

// encodeQuery turns the parameter map into a query/body string. Array
// values expand to repeated key[]=value fragments ahead of the standard
// encoding of scalar parameters, matching what the V8 API parses.
func encodeQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fragments []string
	scalars := url.Values{}
	for _, k := range keys {
		switch v := params[k].(type) {
		case []string:
			for _, one := range v {
				fragments = append(fragments, k+"[]="+url.QueryEscape(one))
			}
		default:
			scalars.Set(k, fmt.Sprint(v))
		}
	}

	query := strings.Join(fragments, "&")
	if encoded := scalars.Encode(); encoded != "" {
		if query != "" {
			query += "&"
		}
		query += encoded
	}
	return query
}
