// Package routing loads the routing.json document (flows + the
// account-routing table) and resolves a logical model name into an ordered
// list of runnable entries.
package routing

import "time"

// Entry identifies one way to fulfill a request: a provider, an account
// (or the literal "auto"), and the upstream model to call.
type Entry struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	AccountID string `json:"accountId"`
	ModelID   string `json:"modelId"`
	Label     string `json:"label,omitempty"`
}

// IsAuto reports whether this entry's account id is the "auto" sentinel.
func (e Entry) IsAuto() bool { return e.AccountID == "auto" }

// Flow is a named ordered list of entries, selected by logical model name.
type Flow struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// AccountRoutingEntry is one candidate within an account-routing route row.
type AccountRoutingEntry struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	AccountID    string `json:"accountId"`
	AccountLabel string `json:"accountLabel,omitempty"`
}

// AccountRoutingRoute maps one official model id to its candidate entries.
type AccountRoutingRoute struct {
	ID      string                `json:"id"`
	ModelID string                `json:"modelId"`
	Entries []AccountRoutingEntry `json:"entries"`
}

// AccountRoutingTable is consulted when the incoming request names an
// official (provider-catalog) model rather than a named flow.
type AccountRoutingTable struct {
	SmartSwitch bool                  `json:"smartSwitch"`
	Routes      []AccountRoutingRoute `json:"routes"`
}

// Document is the persisted routing.json shape (version 2).
type Document struct {
	Version        int                 `json:"version"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	ActiveFlowID   *string             `json:"activeFlowId,omitempty"`
	Flows          []Flow              `json:"flows"`
	AccountRouting AccountRoutingTable `json:"accountRouting"`
}

// emptyDocument is returned whenever the persisted file is missing, unreadable,
// or fails to parse: a complete implementation tolerates a fresh install the
// same way the teacher's account config loader does.
func emptyDocument() *Document {
	return &Document{
		Version: 2,
		Flows:   []Flow{},
	}
}
