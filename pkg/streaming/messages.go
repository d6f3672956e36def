package streaming

import (
	"encoding/json"

	"github.com/warband/battlecore/pkg/core"
)

// Message type constants of the replication protocol.
const (
	// simulator -> observer
	TypeBattleStart    = "battle_start"
	TypeStacksInjured  = "stacks_injured"
	TypeStacksHealed   = "stacks_healed"
	TypeStackMoved     = "stack_moved"
	TypePackageApplied = "package_applied"

	// observer -> simulator
	TypeHello     = "hello"
	TypeCastSpell = "cast_spell"
)

// Envelope wraps all messages sent over the channel. Seq is assigned by
// the simulator and is strictly increasing per battle.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// HelloMessage is the first message an observer sends.
type HelloMessage struct {
	Name string `json:"name"`
	// Side the observer controls; nil for spectators.
	Side *core.Side `json:"side,omitempty"`
}

// CastSpellRequest asks the simulator to resolve one spell.
type CastSpellRequest struct {
	RequestID uint64      `json:"requestId"`
	Spell     string      `json:"spell"`
	Level     int         `json:"level"`
	Caster    core.UnitID `json:"caster"`
	Target    core.Target `json:"target"`
}
