package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/resolver"
	"github.com/warband/battlecore/internal/spells"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

var predictFlags struct {
	spell   string
	caster  int
	level   int
	targets string
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Show the outcome of a spell without touching the battle",
	Long: `predict loads the configured scenario and spells and resolves one
spell against a private copy. Guaranteed rebirths are shown; the
fractional rebirth roll is not.`,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictFlags.spell, "spell", "", "spell id")
	f.IntVar(&predictFlags.caster, "caster", int(core.NoUnit), "casting unit id")
	f.IntVar(&predictFlags.level, "level", 0, "spell level")
	f.StringVar(&predictFlags.targets, "targets", "", "comma separated target unit ids")
	_ = predictCmd.MarkFlagRequired("spell")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	env, err := setupRuntime("predict", nil)
	if err != nil {
		return err
	}
	defer env.Close()

	catalog, info, err := loadBattle(env.Logger)
	if err != nil {
		return err
	}
	target, err := parseTargets(predictFlags.targets)
	if err != nil {
		return err
	}

	b := battle.FromInfo(info)
	predicted, err := resolver.Predict(b, catalog, streaming.CastSpellRequest{
		Spell:  predictFlags.spell,
		Level:  predictFlags.level,
		Caster: core.UnitID(predictFlags.caster),
		Target: target,
	})
	if err != nil {
		return err
	}

	spell, _ := catalog.Get(predictFlags.spell)
	desc, err := spell.Describe(predictFlags.level)
	if err != nil {
		return err
	}
	printEffects(cmd.OutOrStdout(), desc)
	printUnits(cmd.OutOrStdout(), b.Units(), predicted.Units())
	return nil
}

// printEffects writes one line per effect with its non-default parameters.
func printEffects(w io.Writer, desc []spells.EffectConfig) {
	for _, e := range desc {
		params := make([]string, 0, len(e.Params))
		for k, v := range e.Params {
			params = append(params, fmt.Sprintf("%s=%v", k, v))
		}
		slices.Sort(params)
		fmt.Fprintln(w, strings.TrimSpace(e.Key+" "+strings.Join(params, " ")))
	}
}

// printUnits writes one row per unit. With before set, counts are shown
// as before -> after.
func printUnits(w io.Writer, before, after []core.Unit) {
	prev := make(map[core.UnitID]core.Unit, len(before))
	for _, u := range before {
		prev[u.ID] = u
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUNIT\tSIDE\tCOUNT\tTOP HP")
	for _, u := range after {
		count := fmt.Sprint(u.Count)
		hp := fmt.Sprint(u.FirstHPLeft)
		if p, ok := prev[u.ID]; ok && (p.Count != u.Count || p.FirstHPLeft != u.FirstHPLeft) {
			count = fmt.Sprintf("%d -> %d", p.Count, u.Count)
			hp = fmt.Sprintf("%d -> %d", p.FirstHPLeft, u.FirstHPLeft)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.DisplayName(u.Count != 1), u.Side, count, hp)
	}
	tw.Flush()
}
