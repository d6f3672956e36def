package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/storage/memory"
	"github.com/warband/battlecore/pkg/streaming"
)

var replayLang string

var replayCmd = &cobra.Command{
	Use:   "replay <journal.json[.gz]>",
	Short: "Rebuild a battle from an exported journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayLang, "lang", "en", "battle log language")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	tag, err := language.Parse(replayLang)
	if err != nil {
		return fmt.Errorf("invalid language: %w", err)
	}
	exp, err := memory.ReadExport(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	b := battle.FromInfo(exp.Snapshot)
	initial := b.Units()

	var last uint64
	for _, pj := range exp.Packs {
		if pj.Seq <= last {
			return fmt.Errorf("journal out of order: pack %d after %d", pj.Seq, last)
		}
		last = pj.Seq
		p, err := packs.Decode(streaming.Envelope{Type: pj.Type, Seq: pj.Seq, Payload: pj.Payload})
		if err != nil {
			return fmt.Errorf("pack %d: %w", pj.Seq, err)
		}
		p.Apply(b)
		if l, ok := p.(packs.Logged); ok && len(l.Log()) > 0 {
			fmt.Fprintf(out, "[%d] %s\n", pj.Seq, battlelog.RenderAll(tag, l.Log()))
		}
	}

	printUnits(out, initial, b.Units())
	fmt.Fprintf(out, "actions: %d  damage: %d  healed: %d  killed: %d  revived: %d\n",
		exp.Totals.Actions, exp.Totals.Damage, exp.Totals.Healed, exp.Totals.Killed, exp.Totals.Revived)
	return nil
}
