package api

import (
	"sort"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/catalog"
)

// accountSource adapts accountstore.Store to routing.AccountSource: accounts
// carry no per-model allowlist of their own, so any account of a provider is
// considered usable for any model that provider's catalog exposes.
type accountSource struct {
	store   *accountstore.Store
	catalog catalog.Static
}

func newAccountSource(store *accountstore.Store) *accountSource {
	return &accountSource{store: store}
}

func (a *accountSource) AccountExists(provider, accountID string) bool {
	acc, err := a.store.GetAccount(provider, accountID)
	return err == nil && acc != nil
}

// AccountsForModel returns every account id of provider, in creation order,
// provided the catalog exposes modelID for that provider at all.
func (a *accountSource) AccountsForModel(provider, modelID string) []string {
	if !a.catalog.IsVisible(provider, modelID) {
		return nil
	}
	accounts, err := a.store.ListAccounts(provider)
	if err != nil {
		return nil
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	ids := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		ids = append(ids, acc.ID)
	}
	return ids
}
