package routing

import (
	"fmt"
	"strings"

	derrors "github.com/relaycore/dispatch-proxy/internal/errors"
)

// AccountSource answers the account-existence and auto-expansion questions
// the resolver needs without owning any account-store details itself.
type AccountSource interface {
	// AccountExists reports whether (provider, accountID) is a known account.
	AccountExists(provider, accountID string) bool
	// AccountsForModel returns, in account-creation order, the ids of every
	// account of provider that supports modelID.
	AccountsForModel(provider, modelID string) []string
}

// Resolve turns a logical model string into an ordered, non-empty list of
// runnable entries, or a *errors.RoutingError.
func Resolve(doc *Document, catalog Catalog, accounts AccountSource, model string) ([]Entry, error) {
	if entries := resolveFlow(doc, accounts, model); entries != nil {
		return entries, nil
	}

	if entries := resolveOfficialModel(doc, catalog, accounts, model); entries != nil {
		return entries, nil
	}

	return nil, &derrors.RoutingError{Model: model}
}

// resolveFlow implements §4.4 step 1: flow match with "route:" prefix
// stripping, usability filtering, and auto expansion.
func resolveFlow(doc *Document, accounts AccountSource, model string) []Entry {
	flowKey := strings.TrimSpace(model)
	flowKey = strings.TrimPrefix(strings.ToLower(flowKey), "route:")
	flowKey = strings.TrimSpace(flowKey)

	for _, flow := range doc.Flows {
		if !strings.EqualFold(flow.Name, flowKey) {
			continue
		}
		var out []Entry
		for _, e := range flow.Entries {
			if e.AccountID == "" || e.ModelID == "" {
				continue
			}
			if e.IsAuto() {
				out = append(out, expandAuto(e, accounts)...)
				continue
			}
			out = append(out, e)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// resolveOfficialModel implements §4.4 step 2: the account-routing table,
// including the smartSwitch auto-list fallback.
func resolveOfficialModel(doc *Document, catalog Catalog, accounts AccountSource, model string) []Entry {
	providers := []string{"antigravity", "codex", "copilot"}

	var visibleOn []string
	for _, p := range providers {
		if catalog.IsVisible(p, model) {
			visibleOn = append(visibleOn, p)
		}
	}
	if len(visibleOn) == 0 {
		return nil
	}

	var route *AccountRoutingRoute
	for i := range doc.AccountRouting.Routes {
		if doc.AccountRouting.Routes[i].ModelID == model {
			route = &doc.AccountRouting.Routes[i]
			break
		}
	}

	var out []Entry
	if route != nil {
		for _, e := range route.Entries {
			if e.AccountID == "" {
				continue
			}
			if e.AccountID == "auto" {
				for _, p := range visibleOn {
					out = append(out, expandAuto(Entry{Provider: p, AccountID: "auto", ModelID: model}, accounts)...)
				}
				continue
			}
			if !accounts.AccountExists(e.Provider, e.AccountID) {
				continue
			}
			out = append(out, Entry{
				ID:        e.ID,
				Provider:  e.Provider,
				AccountID: e.AccountID,
				ModelID:   model,
				Label:     e.AccountLabel,
			})
		}
	}

	if len(out) == 0 && doc.AccountRouting.SmartSwitch {
		for _, p := range visibleOn {
			for _, id := range accounts.AccountsForModel(p, model) {
				out = append(out, Entry{
					ID:        fmt.Sprintf("auto-%s-%s", p, id),
					Provider:  p,
					AccountID: id,
					ModelID:   model,
				})
			}
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func expandAuto(e Entry, accounts AccountSource) []Entry {
	var out []Entry
	for _, id := range accounts.AccountsForModel(e.Provider, e.ModelID) {
		out = append(out, Entry{
			ID:        fmt.Sprintf("auto-%s-%s", e.Provider, id),
			Provider:  e.Provider,
			AccountID: id,
			ModelID:   e.ModelID,
			Label:     e.Label,
		})
	}
	return out
}
