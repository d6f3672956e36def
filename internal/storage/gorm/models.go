package gormstorage

import (
	"time"

	"gorm.io/datatypes"
)

// Models lists the journal tables
var Models = []any{
	&Battle{},
	&Pack{},
	&Action{},
}

// Battle is one journaled battle; Snapshot holds the starting BattleInfo
type Battle struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	BattleID  string         `gorm:"size:128;index" json:"battleId"`
	Seed      int64          `json:"seed"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime"`
	Snapshot  datatypes.JSON `json:"snapshot"`
}

func (*Battle) TableName() string { return "battles" }

// Pack is one delta pack as sent
type Pack struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	Time      time.Time      `json:"time"`
	BattleRef uint           `gorm:"index:idx_pack_battle_seq,priority:1" json:"battleRef"`
	Seq       uint64         `gorm:"index:idx_pack_battle_seq,priority:2" json:"seq"`
	Type      string         `gorm:"size:32" json:"type"`
	Payload   datatypes.JSON `json:"payload"`
}

func (*Pack) TableName() string { return "packs" }

// Action summarises one resolved spell
type Action struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Time       time.Time `json:"time"`
	BattleRef  uint      `gorm:"index" json:"battleRef"`
	RequestID  uint64    `json:"requestId"`
	Spell      string    `gorm:"size:64;index" json:"spell"`
	Caster     int32     `json:"caster"`
	Targets    int       `json:"targets"`
	Damage     int64     `json:"damage"`
	Healed     int64     `json:"healed"`
	Killed     int32     `json:"killed"`
	Revived    int32     `json:"revived"`
	DurationMs float32   `json:"durationMs"`
}

func (*Action) TableName() string { return "actions" }
