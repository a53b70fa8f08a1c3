package suitecrm

import (
	"context"
	"net/http"

	"github.com/voicetel/suitecrm-notifier/internal/models"
)

// SearchTickets runs a ticket search and enriches the hits with state
// names, priority names and owner display fields. Lookup failures degrade
// to unenriched tickets; only the search itself is fatal.
func (c *Client) SearchTickets(ctx context.Context, userID, query string) ([]models.Ticket, error) {
	raw, err := c.Request(ctx, userID, "tickets/search", map[string]any{
		"query": query,
		"limit": 20,
	}, http.MethodGet)
	if err != nil {
		return nil, err
	}

	tickets := decodeTicketAssets(raw)
	if len(tickets) == 0 {
		return tickets, nil
	}

	statesByID := c.lookupNames(ctx, userID, "ticket_states")
	priosByID := c.lookupNames(ctx, userID, "ticket_priorities")
	for i := range tickets {
		tickets[i].StateName = statesByID[tickets[i].StateID]
		tickets[i].PriorityName = priosByID[tickets[i].PriorityID]
	}

	c.attachOwnerDetails(ctx, userID, tickets)
	return tickets, nil
}

func decodeTicketAssets(raw any) []models.Ticket {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	assets, ok := obj["assets"].(map[string]any)
	if !ok {
		return nil
	}
	hits, ok := assets["Ticket"].(map[string]any)
	if !ok {
		return nil
	}

	var tickets []models.Ticket
	for id, entry := range hits {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		t := models.Ticket{ID: id}
		t.Subject, _ = fields["subject"].(string)
		t.StateID = stringAttr(fields, "state_id")
		t.PriorityID = stringAttr(fields, "priority_id")
		t.OwnerID = stringAttr(fields, "owner_id")
		t.AssignedUserID = stringAttr(fields, "assigned_user_id")
		t.CustomerID = stringAttr(fields, "customer_id")
		t.UpdatedAt = stringAttr(fields, "updated_at")
		tickets = append(tickets, t)
	}
	return tickets
}

// lookupNames fetches an id -> name table such as ticket_states or
// ticket_priorities. Failures yield an empty table.
func (c *Client) lookupNames(ctx context.Context, userID, endpoint string) map[string]string {
	byID := make(map[string]string)
	raw, err := c.Request(ctx, userID, endpoint, nil, http.MethodGet)
	if err != nil {
		c.logger.Verbose("lookup failed", "endpoint", endpoint, "error", err.Error())
		return byID
	}
	list, ok := raw.([]any)
	if !ok {
		return byID
	}
	for _, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id := stringAttr(item, "id")
		name := stringAttr(item, "name")
		if id != "" && name != "" {
			byID[id] = name
		}
	}
	return byID
}

func (c *Client) attachOwnerDetails(ctx context.Context, userID string, tickets []models.Ticket) {
	details := make(map[string]map[string]any)
	for i := range tickets {
		customerID := tickets[i].CustomerID
		if customerID == "" {
			continue
		}
		user, ok := details[customerID]
		if !ok {
			raw, err := c.Request(ctx, userID, "users/"+customerID, nil, http.MethodGet)
			if err != nil {
				continue
			}
			user, ok = raw.(map[string]any)
			if !ok {
				continue
			}
			details[customerID] = user
		}
		tickets[i].OwnerFirstname = stringAttr(user, "firstname")
		tickets[i].OwnerLastname = stringAttr(user, "lastname")
		tickets[i].OwnerOrgID = stringAttr(user, "organization_id")
		tickets[i].OwnerImage = stringAttr(user, "image")
	}
}
