package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/actions"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/spf13/cobra"
)

// #region users
func newCreateUserCmd(get func() *app) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "create-user <user-id>",
		Short: "Initialize a user's trust record at 100",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			u, err := a.ledger.CreateUser(cmd.Context(), args[0], room)
			if err != nil {
				return err
			}
			out := map[string]any{"userId": u.UserID, "score": u.Score()}
			return a.emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s  score=%d\n", u.UserID, u.Score())
			})
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room the account belongs to")
	return cmd
}

func newApplyCmd(get func() *app) *cobra.Command {
	var (
		room, action, reason, related, by string
		points                            int
		recurring                         bool
		streak                            int
		late                              bool
	)
	cmd := &cobra.Command{
		Use:   "apply <user-id>",
		Short: "Apply one trust action through the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, ok := trust.ParseActionType(action)
			if !ok {
				return fmt.Errorf("unknown action %q (known: %v)", action, trust.ActionTypes())
			}
			pc := policy.Context{Recurring: recurring, ConsecutiveCount: streak, Points: points}
			if late {
				onTime := false
				pc.WasOnTime = &onTime
			}
			a := get()
			score, err := a.ledger.Apply(cmd.Context(), ledger.Change{
				UserID: args[0], RoomID: room, Action: at, Reason: reason,
				RelatedID: related, CreatedBy: by, Context: pc,
			})
			if err != nil {
				return err
			}
			return a.emit(map[string]any{"userId": args[0], "score": score}, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s  score=%d\n", args[0], at, score)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&room, "room", "", "room id")
	f.StringVar(&action, "action", "", "action type")
	f.StringVar(&reason, "reason", "", "human-readable reason")
	f.StringVar(&related, "related", "", "related entity id")
	f.StringVar(&by, "by", "", "actor id")
	f.IntVar(&points, "points", 0, "points for manual_adjustment")
	f.BoolVar(&recurring, "recurring", false, "chore is recurring")
	f.IntVar(&streak, "streak", 0, "completions in the trailing 30 days")
	f.BoolVar(&late, "late", false, "bill was not actually paid on time")
	return cmd
}

func newHistoryCmd(get func() *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Show a user's audit trail, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			recs, err := a.ledger.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return a.emit(recs, func(w io.Writer) { printHistory(w, recs) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", ledger.DefaultHistoryLimit, "max records")
	return cmd
}

func printHistory(w io.Writer, recs []trust.ActionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no history")
		return
	}
	fmt.Fprintf(w, "%-20s  %-22s  %6s  %-10s  %s\n", "CREATED", "ACTION", "POINTS", "BY", "REASON")
	for _, r := range recs {
		fmt.Fprintf(w, "%-20s  %-22s  %+6d  %-10s  %s\n",
			r.CreatedAt.Format(time.DateTime), r.Action, r.Points, r.CreatedBy, r.Reason)
	}
}

func newRestrictionsCmd(get func() *app) *cobra.Command {
	var score int
	cmd := &cobra.Command{
		Use:   "restrictions [user-id]",
		Short: "Show the permission gate for a user or an explicit --score",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			var r gate.Restrictions
			switch {
			case len(args) == 1:
				var err error
				if r, err = a.ledger.Restrictions(cmd.Context(), args[0]); err != nil {
					return err
				}
			case cmd.Flags().Changed("score"):
				r = a.ledger.Gate().Evaluate(score)
			default:
				return errors.New("need a user id or --score")
			}
			return a.emit(r, func(w io.Writer) { printRestrictions(w, r) })
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "evaluate this score instead of a user's")
	return cmd
}

func printRestrictions(w io.Writer, r gate.Restrictions) {
	fmt.Fprintf(w, "score=%d tier=%s confirmation=%t", r.Score, r.Tier, r.RequiresConfirmation)
	if r.MaxChoresPerWeek != nil {
		fmt.Fprintf(w, " maxChoresPerWeek=%d", *r.MaxChoresPerWeek)
	}
	fmt.Fprintf(w, "\n%s\n", r.Message)
	caps := make([]string, 0, len(r.Capabilities))
	for c := range r.Capabilities {
		caps = append(caps, string(c))
	}
	sort.Strings(caps)
	for _, c := range caps {
		fmt.Fprintf(w, "  %-16s %t\n", c, r.Capabilities[policy.Capability(c)])
	}
}

func newResetCmd(get func() *app) *cobra.Command {
	var room, reason, by string
	var score int
	cmd := &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Set a user's score directly (clamped to 0..150)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("score") {
				return errors.New("--score is required")
			}
			a := get()
			err := a.actions.ManualReset(cmd.Context(), ledger.Reset{
				UserID: args[0], RoomID: room, NewScore: score, Reason: reason, ResetBy: by,
			})
			if err != nil {
				return err
			}
			final := trust.Clamp(score)
			return a.emit(map[string]any{"userId": args[0], "score": final}, func(w io.Writer) {
				fmt.Fprintf(w, "%s  score=%d\n", args[0], final)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&room, "room", "", "room id")
	f.IntVar(&score, "score", 0, "new score")
	f.StringVar(&reason, "reason", "", "reason for the reset")
	f.StringVar(&by, "by", "", "admin performing the reset")
	return cmd
}

// #endregion users

// #region handlers
func newCompleteCmd(get func() *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "complete <chore-id>",
		Short: "Mark a chore completed and credit the completer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			res, err := a.actions.CompleteChore(cmd.Context(), actions.CompleteChore{ChoreID: args[0], UserID: user})
			if err != nil {
				return err
			}
			return a.emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s  by=%s  streak=%d  score=%d\n", res.ChoreID, user, res.ConsecutiveCount, res.Score)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user completing the chore")
	return cmd
}

func newDisputeCmd(get func() *app) *cobra.Command {
	var d actions.Dispute
	var verdict string
	cmd := &cobra.Command{
		Use:   "dispute <chore-id>",
		Short: "Resolve a disputed chore completion (--verdict valid|invalid)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch verdict {
			case "valid":
				d.Valid = true
			case "invalid":
				d.Valid = false
			default:
				return fmt.Errorf("--verdict must be valid or invalid, got %q", verdict)
			}
			d.ChoreID = args[0]
			a := get()
			res, err := a.actions.ResolveDispute(cmd.Context(), d)
			if len(res.Steps) > 0 {
				if emitErr := a.emit(res, func(w io.Writer) { printSteps(w, res.Steps) }); emitErr != nil {
					return emitErr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.RoomID, "room", "", "room id")
	f.StringVar(&d.CompleterID, "completer", "", "user who marked the chore done")
	f.StringVar(&d.DisputerID, "disputer", "", "user who filed the dispute")
	f.StringVar(&d.ResolvedBy, "by", "", "adjudicator id")
	f.StringVar(&verdict, "verdict", "", "valid (completer lied) or invalid (disputer was wrong)")
	return cmd
}

func printSteps(w io.Writer, steps []actions.StepResult) {
	for _, s := range steps {
		status := "ok score=" + strconv.Itoa(s.Score)
		if !s.OK() {
			status = "FAILED: " + s.Error
		}
		fmt.Fprintf(w, "%-18s  %-10s  %-22s  %s\n", s.Step, s.UserID, s.Action, status)
	}
}

func newSweepCmd(get func() *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep <room-id>",
		Short: "Run the weekly consistency sweep for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				now = t
			}
			a := get()
			res, err := a.actions.WeeklySweep(cmd.Context(), args[0], now)
			if emitErr := a.emit(res, func(w io.Writer) { printSweep(w, res) }); emitErr != nil {
				return emitErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time inside the week to sweep (default now)")
	return cmd
}

func printSweep(w io.Writer, res actions.SweepResult) {
	fmt.Fprintf(w, "room=%s week=%s", res.RoomID, res.Week.Format(time.DateOnly))
	if res.AlreadyRun {
		fmt.Fprintln(w, " already swept")
		return
	}
	fmt.Fprintf(w, " applied=%d skipped=%d failed=%d\n", res.Applied, len(res.Skipped), len(res.Failed))
	for _, u := range res.Bonused {
		fmt.Fprintf(w, "  + %s\n", u)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  ! %s: %v\n", f.UserID, f.Err)
	}
}

// #endregion handlers
