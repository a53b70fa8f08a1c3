package database

import (
	"github.com/voicetel/suitecrm-notifier/internal/models"
)

// appID scopes our rows inside the host platform's shared config tables.
const appID = models.AppID

// Per-user keys mirroring what the host platform stores for each linked
// account.
const (
	KeyToken         = "token"
	KeyRefreshToken  = "refresh_token"
	KeyUserID        = "user_id"
	KeyLastOpenCheck = "last_open_check"
)

// App-wide keys set once by an admin.
const (
	AppKeyClientID     = "client_id"
	AppKeyClientSecret = "client_secret"
	AppKeyInstanceURL  = "oauth_instance_url"
)

// TokenStore is the per-user and app-wide key/value persistence behind the
// integration: tokens, the SuiteCRM-side user id, the last-check watermark
// and the OAuth app credentials.
//
// A missing key reads as the empty string, not an error.
type TokenStore interface {
	GetUserValue(userID, key string) (string, error)
	SetUserValue(userID, key, value string) error
	GetAppValue(key string) (string, error)
	SetAppValue(key, value string) error

	// ForEachLinkedUser streams the ids of users holding an access token.
	// Rows are visited one at a time; the full set is never materialized.
	ForEachLinkedUser(fn func(userID string) error) error

	Close() error
}

// NotificationRecorder is implemented by stores that keep a local history
// of emitted notifications for stats and retention cleanup.
type NotificationRecorder interface {
	RecordNotification(ev models.NotificationEvent, nbOpen int) error
}

// LoadCredentials reads the admin-configured OAuth settings.
func LoadCredentials(s TokenStore) (models.Credentials, error) {
	clientID, err := s.GetAppValue(AppKeyClientID)
	if err != nil {
		return models.Credentials{}, err
	}
	clientSecret, err := s.GetAppValue(AppKeyClientSecret)
	if err != nil {
		return models.Credentials{}, err
	}
	baseURL, err := s.GetAppValue(AppKeyInstanceURL)
	if err != nil {
		return models.Credentials{}, err
	}
	return models.Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      baseURL,
	}, nil
}
