// Package scheduler implements the placement engines: the round-robin reference engine
// and a weighted engine that combines resource service scores with rack and group
// association policies.
package scheduler

import (
	"fmt"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Placement strategies of the weighted engine.
//   - "balance": rely on the combined resource scores only
//   - "spread": prefer hosts holding fewer VMs of the same group (better HA)
//   - "pack": prefer hosts already holding VMs of the same group
const (
	StrategyBalance = "balance"
	StrategySpread  = "spread"
	StrategyPack    = "pack"
)

const (
	// maxServiceScore is the normalised score of the best host of one service.
	maxServiceScore = 100.0

	// spreadPenalty is subtracted per VM of the group already on the host.
	spreadPenalty = 5.0

	// packBonus is added per VM of the group already on the host, up to maxPackBonus.
	packBonus    = 10.0
	maxPackBonus = 100.0

	// associationBonus favours hosts of a WEAK-associated group.
	associationBonus = 20.0
)

// ParseStrategy validates a strategy name. An empty name means balance.
func ParseStrategy(s string) (string, error) {
	switch s {
	case "":
		return StrategyBalance, nil
	case StrategyBalance, StrategySpread, StrategyPack:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown placement strategy %q", domain.ErrInvalidConfig, s)
	}
}
