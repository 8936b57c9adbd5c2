package api

import (
	"github.com/relaycore/dispatch-proxy/internal/routing"
)

// resolveEntries loads the routing document fresh (readers tolerate a
// missing or corrupt file by reloading, per the account-store persistence
// convention) and resolves model into an ordered entry list.
func (s *Server) resolveEntries(model string) ([]routing.Entry, error) {
	doc, err := routing.Load(s.catalog)
	if err != nil {
		return nil, err
	}
	return routing.Resolve(doc, s.catalog, s.source, model)
}
