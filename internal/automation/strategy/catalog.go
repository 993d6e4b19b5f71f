package strategy

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/manifest"
)

// catalogEntry is one row of an external strategy-catalog TOML file.
type catalogEntry struct {
	ID      string `toml:"id"`
	Enabled bool   `toml:"enabled"`
}

// catalogFile is the decoded shape of loop.strategy_catalog_toml.
type catalogFile struct {
	SchemaVersion string         `toml:"schema_version,omitempty"`
	Strategy      []catalogEntry `toml:"strategy"`
}

// ResolveOrder picks the attempt-loop's strategy order: an external catalog
// file first, then the config's inline strategy_order, then the built-in
// default — in that precedence, mirroring resolve_strategy_order.
func ResolveOrder(cfg config.AutomationConfig) ([]Kind, error) {
	var order []Kind

	if cfg.Loop.StrategyCatalogTOML != "" {
		b, err := os.ReadFile(cfg.Loop.StrategyCatalogTOML)
		if err != nil {
			return nil, fmt.Errorf("read strategy catalog %s: %w", cfg.Loop.StrategyCatalogTOML, err)
		}
		var catalog catalogFile
		if err := toml.Unmarshal(b, &catalog); err != nil {
			return nil, fmt.Errorf("invalid strategy catalog %s: %w", cfg.Loop.StrategyCatalogTOML, err)
		}
		if catalog.SchemaVersion != "" && catalog.SchemaVersion != manifest.StrategyCatalogSchemaVersion {
			return nil, fmt.Errorf("unsupported strategy catalog schema version: %s", catalog.SchemaVersion)
		}
		for _, entry := range catalog.Strategy {
			if !entry.Enabled {
				continue
			}
			k, ok := FromID(entry.ID)
			if !ok {
				return nil, fmt.Errorf("unknown strategy id in catalog: %s", entry.ID)
			}
			order = append(order, k)
		}
	}

	if len(order) == 0 {
		for _, id := range cfg.Loop.StrategyOrder {
			k, ok := FromID(id)
			if !ok {
				return nil, fmt.Errorf("unknown strategy id: %s", id)
			}
			order = append(order, k)
		}
	}

	if len(order) == 0 {
		for _, id := range config.DefaultStrategyOrder() {
			k, ok := FromID(id)
			if !ok {
				return nil, fmt.Errorf("unknown default strategy id: %s", id)
			}
			order = append(order, k)
		}
	}

	return order, nil
}

// SelectNext mirrors select_next_strategy: prefer the previous attempt's
// triage-suggested strategy if it's in the order, unused, and applicable;
// otherwise fall back to the first unused, applicable strategy in order.
func SelectNext(order []Kind, lastTriageNextStrategy string, used map[Kind]bool, cfg config.AutomationConfig) (Kind, bool) {
	if lastTriageNextStrategy != "" {
		if next, ok := FromID(lastTriageNextStrategy); ok && inOrder(order, next) && !used[next] && Applicable(next, cfg) {
			return next, true
		}
	}
	for _, k := range order {
		if !used[k] && Applicable(k, cfg) {
			return k, true
		}
	}
	return 0, false
}

func inOrder(order []Kind, k Kind) bool {
	for _, o := range order {
		if o == k {
			return true
		}
	}
	return false
}
