package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/config"
	"github.com/relaycore/dispatch-proxy/internal/utils"
)

// Catalog reports whether a provider currently exposes a model in its live
// catalog. Entries naming a model the catalog does not return true for are
// considered hidden and are dropped on load.
type Catalog interface {
	IsVisible(provider, modelID string) bool
}

// Load reads routing.json, tolerating a missing or corrupt file by
// returning an empty document, then sanitizes it against the live catalog.
func Load(catalog Catalog) (*Document, error) {
	return LoadPath(config.GetRoutingConfigPath(), catalog)
}

// LoadPath is Load with an explicit path, used by tests.
func LoadPath(path string, catalog Catalog) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		utils.Error("[routing] failed to read routing config: %v", err)
		return emptyDocument(), nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		utils.Error("[routing] failed to parse routing config: %v", err)
		return emptyDocument(), nil
	}

	Sanitize(&doc, catalog)
	return &doc, nil
}

// Sanitize drops entries referencing models the live catalog hides, drops
// any flow left with zero usable entries, and clears activeFlowId if it
// pointed at a dropped flow.
func Sanitize(doc *Document, catalog Catalog) {
	survivingFlows := make([]Flow, 0, len(doc.Flows))
	for _, flow := range doc.Flows {
		usable := make([]Entry, 0, len(flow.Entries))
		for _, e := range flow.Entries {
			if e.AccountID == "" || e.ModelID == "" {
				continue
			}
			if !e.IsAuto() && !catalog.IsVisible(e.Provider, e.ModelID) {
				continue
			}
			usable = append(usable, e)
		}
		if len(usable) == 0 {
			continue
		}
		flow.Entries = usable
		survivingFlows = append(survivingFlows, flow)
	}
	doc.Flows = survivingFlows

	if doc.ActiveFlowID != nil {
		found := false
		for _, f := range doc.Flows {
			if f.ID == *doc.ActiveFlowID {
				found = true
				break
			}
		}
		if !found {
			doc.ActiveFlowID = nil
		}
	}

	sanitizedRoutes := make([]AccountRoutingRoute, 0, len(doc.AccountRouting.Routes))
	for _, route := range doc.AccountRouting.Routes {
		entries := make([]AccountRoutingEntry, 0, len(route.Entries))
		for _, e := range route.Entries {
			if e.AccountID == "" {
				continue
			}
			if e.AccountID != "auto" && !catalog.IsVisible(e.Provider, route.ModelID) {
				continue
			}
			entries = append(entries, e)
		}
		route.Entries = entries
		sanitizedRoutes = append(sanitizedRoutes, route)
	}
	doc.AccountRouting.Routes = sanitizedRoutes
}

// Save writes routing.json atomically (temp file + rename), stamping
// UpdatedAt.
func Save(doc *Document) error {
	return SavePath(config.GetRoutingConfigPath(), doc)
}

// SavePath is Save with an explicit path, used by tests.
func SavePath(path string, doc *Document) error {
	doc.UpdatedAt = time.Now()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".routing-*.tmp")
	if err != nil {
		return err
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempPath, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
