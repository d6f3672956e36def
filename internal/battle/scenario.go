package battle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warband/battlecore/pkg/core"
)

// LoadScenario reads the initial battle from a YAML file.
func LoadScenario(path string) (core.BattleInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.BattleInfo{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario. Units default to full health.
func ParseScenario(data []byte) (core.BattleInfo, error) {
	var info core.BattleInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return core.BattleInfo{}, fmt.Errorf("decode scenario: %w", err)
	}
	seen := make(map[core.UnitID]bool, len(info.Units))
	for i := range info.Units {
		u := &info.Units[i]
		if seen[u.ID] {
			return core.BattleInfo{}, fmt.Errorf("decode scenario: duplicate unit id %d", u.ID)
		}
		seen[u.ID] = true
		if u.MaxHealth <= 0 {
			return core.BattleInfo{}, fmt.Errorf("decode scenario: unit %d has no health", u.ID)
		}
		if u.FirstHPLeft == 0 && u.Count > 0 {
			u.FirstHPLeft = u.MaxHealth
		}
		if u.InitialCount == 0 {
			u.InitialCount = u.Count
		}
	}
	return info, nil
}
