package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/warband/battlecore/internal/battlelog"
	"github.com/warband/battlecore/internal/client"
	"github.com/warband/battlecore/internal/packs"
	"github.com/warband/battlecore/internal/transport/websocket"
	"github.com/warband/battlecore/pkg/core"
	"github.com/warband/battlecore/pkg/streaming"
)

var observeFlags struct {
	url    string
	name   string
	side   string
	lang   string
	cast   string
	caster int
	level  int
	follow bool
}

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Mirror a served battle and print its battle log",
	Example: `  battlecore observe --side attacker --caster 1 --cast lightningBolt:2
  battlecore observe --follow`,
	RunE: runObserve,
}

func init() {
	f := observeCmd.Flags()
	f.StringVar(&observeFlags.url, "url", "", "simulator websocket URL (default serverUrl)")
	f.StringVar(&observeFlags.name, "name", "", "observer name (default client.name)")
	f.StringVar(&observeFlags.side, "side", "", "side to play: attacker or defender; empty to spectate")
	f.StringVar(&observeFlags.lang, "lang", "en", "battle log language")
	f.StringVar(&observeFlags.cast, "cast", "", "cast a spell: spell:target,target...")
	f.IntVar(&observeFlags.caster, "caster", int(core.NoUnit), "casting unit id")
	f.IntVar(&observeFlags.level, "level", 0, "spell level")
	f.BoolVar(&observeFlags.follow, "follow", false, "keep printing until interrupted")
	rootCmd.AddCommand(observeCmd)
}

func parseSide(s string) (*core.Side, error) {
	if s == "" {
		return nil, nil
	}
	var side core.Side
	if err := side.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return &side, nil
}

// parseTargets reads comma separated unit ids.
func parseTargets(s string) (core.Target, error) {
	var ids []core.UnitID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid unit id %q", part)
		}
		ids = append(ids, core.UnitID(id))
	}
	return core.Units(ids...), nil
}

// parseCast reads spell:target,target.
func parseCast(s string) (string, core.Target, error) {
	spell, targets, _ := strings.Cut(s, ":")
	spell = strings.TrimSpace(spell)
	if spell == "" {
		return "", nil, fmt.Errorf("invalid cast %q: no spell", s)
	}
	target, err := parseTargets(targets)
	if err != nil {
		return "", nil, err
	}
	return spell, target, nil
}

func runObserve(cmd *cobra.Command, args []string) error {
	side, err := parseSide(observeFlags.side)
	if err != nil {
		return err
	}
	tag, err := language.Parse(observeFlags.lang)
	if err != nil {
		return fmt.Errorf("invalid language: %w", err)
	}
	name := observeFlags.name
	if name == "" {
		name = viper.GetString("client.name")
	}
	url := observeFlags.url
	if url == "" {
		url = viper.GetString("serverUrl")
	}

	env, err := setupRuntime(name, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := websocket.Dial(ctx, url, viper.GetString("secret"), env.Logger)
	if err != nil {
		return err
	}
	c, err := client.New(conn, client.Options{
		Name:           name,
		Side:           side,
		RequestTimeout: viper.GetDuration("client.requestTimeout"),
		Logger:         env.Logger,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	c.Subscribe(client.ObserverFunc(func(seq uint64, p packs.Pack) {
		if l, ok := p.(packs.Logged); ok && len(l.Log()) > 0 {
			fmt.Fprintf(out, "[%d] %s\n", seq, battlelog.RenderAll(tag, l.Log()))
		}
	}))

	if err := c.Start(ctx); err != nil {
		return err
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	printUnits(out, nil, c.Mirror().Units())

	if observeFlags.cast != "" {
		spell, target, err := parseCast(observeFlags.cast)
		if err != nil {
			return err
		}
		before := c.Mirror().Units()
		err = c.Request(ctx, streaming.CastSpellRequest{
			Spell:  spell,
			Level:  observeFlags.level,
			Caster: core.UnitID(observeFlags.caster),
			Target: target,
		})
		if err != nil {
			return err
		}
		printUnits(out, before, c.Mirror().Units())
	}

	if observeFlags.follow {
		select {
		case <-ctx.Done():
		case <-c.Done():
			return c.Err()
		}
	}
	return nil
}
