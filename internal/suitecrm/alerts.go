package suitecrm

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/models"
)

var recordPattern = regexp.MustCompile(`record=([a-z0-9\-]+)`)

// crmTimeLayouts covers the date formats SuiteCRM emits depending on
// instance configuration.
var crmTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseTime parses a SuiteCRM timestamp string.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range crmTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// GetAlerts returns the user's unread alerts that point at a future Call or
// Meeting, newest-dated last:
//   - fetched server-side filtered to the user's unread alerts
//   - classified by the module named in url_redirect; anything that is not
//     a Call or Meeting with an extractable record id is dropped
//   - resolved against the Call/Meeting record; no date_start, a failed
//     lookup or a date_start not strictly in the future drops the alert
//   - filtered to date_start strictly after since, when since is given
//   - sorted ascending by date_start and truncated to limit, when given
//
// An error on the initial alerts fetch propagates unchanged; per-record
// lookup failures only drop the affected alert.
func (c *Client) GetAlerts(ctx context.Context, userID string, since *time.Time, limit int) ([]models.Alert, error) {
	scrmUserID, err := c.store.GetUserValue(userID, database.KeyUserID)
	if err != nil {
		return nil, transportErr("failed to read crm user id", err)
	}

	raw, err := c.Request(ctx, userID, "module/Alerts", map[string]any{
		"filter[assigned_user_id][eq]": scrmUserID,
		"filter[is_read][eq]":          "0",
	}, http.MethodGet)
	if err != nil {
		return nil, err
	}

	items, ok := dataItems(raw)
	if !ok {
		return nil, malformed("alerts response has no data array")
	}

	now := c.now()
	var futureAlerts []models.Alert
	for _, item := range items {
		alert, ok := decodeAlert(item)
		if !ok {
			continue
		}

		isCall := strings.Contains(alert.URLRedirect, "module=Calls")
		isMeeting := strings.Contains(alert.URLRedirect, "module=Meetings")
		recordMatch := recordPattern.FindStringSubmatch(alert.URLRedirect)
		if (!isCall && !isMeeting) || len(recordMatch) < 2 {
			continue
		}

		module := "Meetings"
		alert.Kind = models.KindMeeting
		if isCall {
			module = "Calls"
			alert.Kind = models.KindCall
		}

		dateStart, ok := c.resolveDateStart(ctx, userID, module, recordMatch[1])
		if !ok || !dateStart.After(now) {
			continue
		}
		alert.DateStart = dateStart
		futureAlerts = append(futureAlerts, alert)
	}

	if since != nil {
		kept := futureAlerts[:0]
		for _, alert := range futureAlerts {
			if alert.DateStart.After(*since) {
				kept = append(kept, alert)
			}
		}
		futureAlerts = kept
	}

	sort.SliceStable(futureAlerts, func(i, j int) bool {
		return futureAlerts[i].DateStart.Before(futureAlerts[j].DateStart)
	})
	if limit > 0 && len(futureAlerts) > limit {
		futureAlerts = futureAlerts[:limit]
	}

	return futureAlerts, nil
}

// resolveDateStart looks up the Call or Meeting record behind an alert and
// returns its start date.
func (c *Client) resolveDateStart(ctx context.Context, userID, module, recordID string) (time.Time, bool) {
	raw, err := c.Request(ctx, userID, "module/"+module, map[string]any{
		"filter[id][eq]": recordID,
	}, http.MethodGet)
	if err != nil {
		c.logger.Verbose("record lookup failed", "module", module, "record", recordID, "error", err.Error())
		return time.Time{}, false
	}

	items, ok := dataItems(raw)
	if !ok || len(items) == 0 {
		return time.Time{}, false
	}
	attrs, ok := items[0]["attributes"].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	dateStr, _ := attrs["date_start"].(string)
	if dateStr == "" {
		return time.Time{}, false
	}

	dateStart, err := ParseTime(dateStr)
	if err != nil {
		return time.Time{}, false
	}
	return dateStart, true
}

// dataItems pulls the JSON:API data array out of a V8 response.
func dataItems(raw any) ([]map[string]any, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	list, ok := obj["data"].([]any)
	if !ok {
		return nil, false
	}
	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items, true
}

func decodeAlert(item map[string]any) (models.Alert, bool) {
	alert := models.Alert{}
	alert.ID, _ = item["id"].(string)
	attrs, ok := item["attributes"].(map[string]any)
	if !ok {
		return alert, false
	}
	alert.URLRedirect, _ = attrs["url_redirect"].(string)
	alert.AssignedUserID, _ = attrs["assigned_user_id"].(string)
	alert.UpdatedAt = stringAttr(attrs, "updated_at")
	if alert.UpdatedAt == "" {
		alert.UpdatedAt = stringAttr(attrs, "date_modified")
	}
	alert.OwnerID = stringAttr(attrs, "owner_id")
	alert.StateID = intAttr(attrs, "state_id")
	alert.IsRead = boolAttr(attrs, "is_read")
	return alert, alert.URLRedirect != ""
}

func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

// intAttr tolerates the API flip-flopping between numeric and string ids.
func intAttr(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func boolAttr(attrs map[string]any, key string) bool {
	switch v := attrs[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "1" || v == "true"
	default:
		return false
	}
}
