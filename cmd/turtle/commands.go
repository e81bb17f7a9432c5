package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/persistence/trail"
)

var (
	gotoFacing  string
	gotoAvoid   []string
	gotoNoCache bool
)

var gotoCmd = &cobra.Command{
	Use:   "goto x y z",
	Short: "Move the turtle to a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseVec(args)
		if err != nil {
			return err
		}
		opts := navigator.MoveOptions{NoCache: gotoNoCache}
		if gotoFacing != "" {
			f, ok := pose.ParseFacing(gotoFacing)
			if !ok {
				return fmt.Errorf("facing %q", gotoFacing)
			}
			opts.Facing = &f
		}
		for _, a := range gotoAvoid {
			v, err := parseVec(strings.Split(a, ","))
			if err != nil {
				return fmt.Errorf("--avoid %q: %w", a, err)
			}
			opts.Avoid = append(opts.Avoid, v)
		}
		return withStack(func(ctx context.Context, st *stack) error {
			res, err := st.nav.MoveTo(ctx, target, opts)
			printJSON(res)
			return err
		})
	},
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Return the turtle home",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(func(ctx context.Context, st *stack) error {
			res, err := st.nav.ActivateEmergencyReturn(ctx, "operator recall")
			printJSON(res)
			return err
		})
	},
}

var backtrackCmd = &cobra.Command{
	Use:   "backtrack steps",
	Short: "Undo the last recorded moves",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("steps must be a positive integer, got %q", args[0])
		}
		return withStack(func(ctx context.Context, st *stack) error {
			done, err := st.nav.Backtrack(ctx, n)
			logger.Info("backtracked", zap.Int("steps", done), zap.Stringer("pose", st.nav.Position()))
			return err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the navigator's pose, fuel and emergency state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(func(ctx context.Context, st *stack) error {
			printJSON(st.nav.Stats(ctx))
			return nil
		})
	},
}

var trailList bool

var trailCmd = &cobra.Command{
	Use:   "trail session",
	Short: "Print a session's recorded movement trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := tu.Persistence.TrailDir
		if dir == "" {
			return fmt.Errorf("persistence.trail_dir is not configured")
		}
		if trailList {
			segs, err := trail.Segments(dir, args[0])
			if err != nil {
				return err
			}
			for _, s := range segs {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		}
		entries, err := trail.ReadSession(dir, args[0])
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range entries {
			_ = enc.Encode(e)
		}
		return err
	},
}

func init() {
	trailCmd.Flags().BoolVar(&trailList, "list", false, "List segment files instead of entries")
	gotoCmd.Flags().StringVar(&gotoFacing, "facing", "", "Heading to turn to on arrival (north, east, south, west)")
	gotoCmd.Flags().StringSliceVar(&gotoAvoid, "avoid", nil, "Positions to route around, as x,y,z")
	gotoCmd.Flags().BoolVar(&gotoNoCache, "no-cache", false, "Plan without the path cache")
}

func withStack(fn func(ctx context.Context, st *stack) error) error {
	ctx, cancel := commandContext()
	defer cancel()
	st, err := openStack(ctx, tu, useSim, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())
	return fn(ctx, st)
}

func parseVec(args []string) (pose.Vec3, error) {
	if len(args) != 3 {
		return pose.Vec3{}, fmt.Errorf("want 3 coordinates, got %d", len(args))
	}
	var xyz [3]int
	for i, a := range args {
		v, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return pose.Vec3{}, fmt.Errorf("coordinate %q is not an integer", a)
		}
		xyz[i] = v
	}
	return pose.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
