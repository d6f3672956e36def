package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warband/battlecore/pkg/core"
)

// ExportVersion is written into every export
const ExportVersion = 1

// Export is the root JSON structure of an exported journal
type Export struct {
	Version   int             `json:"version"`
	BattleID  string          `json:"battleId"`
	Seed      int64           `json:"seed"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Snapshot  core.BattleInfo `json:"snapshot"`
	Packs     []PackJSON      `json:"packs"`
	Actions   []ActionJSON    `json:"actions"`
	Totals    Totals          `json:"totals"`
}

// PackJSON is one journaled pack. Payload is the pack body as sent.
type PackJSON struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// ActionJSON is one resolved action
type ActionJSON struct {
	RequestID  uint64      `json:"requestId"`
	Spell      string      `json:"spell"`
	Caster     core.UnitID `json:"caster"`
	Targets    int         `json:"targets"`
	Damage     int64       `json:"damage"`
	Healed     int64       `json:"healed"`
	Killed     int32       `json:"killed"`
	Revived    int32       `json:"revived"`
	DurationMs float64     `json:"durationMs"`
	Time       time.Time   `json:"time"`
}

// Totals sums all actions of the battle
type Totals struct {
	Actions int   `json:"actions"`
	Damage  int64 `json:"damage"`
	Healed  int64 `json:"healed"`
	Killed  int32 `json:"killed"`
	Revived int32 `json:"revived"`
}

// exportFileName builds <battle>_<start>.json[.gz] with path-hostile
// characters replaced.
func exportFileName(battleID string, start time.Time, compress bool) string {
	name := battleID
	if name == "" {
		name = "battle"
	}
	name = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_").Replace(name)
	ext := ".json"
	if compress {
		ext += ".gz"
	}
	return fmt.Sprintf("%s_%s%s", name, start.Format("20060102_150405"), ext)
}

// exportJSON writes the journal to a JSON file
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	filename := exportFileName(b.battle.ID, b.battle.StartTime, b.cfg.CompressOutput)
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() Export {
	export := Export{
		Version:   ExportVersion,
		BattleID:  b.battle.ID,
		Seed:      b.battle.Seed,
		StartTime: b.battle.StartTime,
		EndTime:   b.end,
		Snapshot:  *b.battle,
		Packs:     make([]PackJSON, 0, len(b.packs)),
		Actions:   make([]ActionJSON, 0, len(b.actions)),
	}

	for _, p := range b.packs {
		payload := json.RawMessage(p.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		export.Packs = append(export.Packs, PackJSON{
			Seq:     p.Seq,
			Type:    p.Type,
			Time:    p.Time,
			Payload: payload,
		})
	}

	for _, a := range b.actions {
		export.Actions = append(export.Actions, ActionJSON{
			RequestID:  a.RequestID,
			Spell:      a.Spell,
			Caster:     a.Caster,
			Targets:    a.Targets,
			Damage:     a.Damage,
			Healed:     a.Healed,
			Killed:     a.Killed,
			Revived:    a.Revived,
			DurationMs: float64(a.Duration) / float64(time.Millisecond),
			Time:       a.Time,
		})
		export.Totals.Actions++
		export.Totals.Damage += a.Damage
		export.Totals.Healed += a.Healed
		export.Totals.Killed += a.Killed
		export.Totals.Revived += a.Revived
	}

	return export
}

func writeJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return err
	}
	return gzWriter.Close()
}

// ReadExport loads an export written by EndBattle. Gzip is detected from
// the .gz extension.
func ReadExport(path string) (*Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("decoding export: %w", err)
	}
	return &export, nil
}
