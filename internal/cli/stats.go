// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/telemetry"
)

// StatsResult is the --json payload of `offchat stats`.
type StatsResult struct {
	Sessions int                    `json:"sessions"`
	Totals   telemetry.SessionUsage `json:"totals"`
	Last     *telemetry.SessionUsage `json:"last,omitempty"`
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics saved by past sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			store, err := a.usageStorage()
			if err != nil {
				return err
			}
			res, err := collectStats(store)
			if err != nil {
				return err
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "stats", res)
			}
			printStats(a, res)
			return nil
		},
	}
}

func collectStats(store *telemetry.Storage) (StatsResult, error) {
	ids, err := store.List()
	if errors.Is(err, fs.ErrNotExist) {
		return StatsResult{}, nil
	}
	if err != nil {
		return StatsResult{}, err
	}
	totals, err := store.Totals()
	if err != nil {
		return StatsResult{}, err
	}
	res := StatsResult{Sessions: len(ids), Totals: totals}
	if len(ids) > 0 {
		if last, err := store.Load(ids[len(ids)-1]); err == nil {
			res.Last = last
		}
	}
	return res, nil
}

func printStats(a *app, res StatsResult) {
	if res.Sessions == 0 {
		fmt.Fprintln(a.stdout, DimStyle.Render("No usage recorded yet."))
		return
	}
	t := res.Totals
	fmt.Fprintln(a.stdout, TitleStyle.Render("Usage"))
	fmt.Fprintln(a.stdout, RenderField("Sessions", fmt.Sprintf("%d since %s", res.Sessions, t.StartTime.Format("2006-01-02"))))
	fmt.Fprintln(a.stdout, RenderField("Replies", fmt.Sprintf("%d (%d failed)", t.Generations, t.FailedGenerations)))
	fmt.Fprintln(a.stdout, RenderField("Average reply", t.AverageDuration().Round(time.Millisecond).String()))
	fmt.Fprintln(a.stdout, RenderField("Fragments", fmt.Sprintf("%d", t.Fragments)))
	fmt.Fprintln(a.stdout, RenderField("Voice inputs", fmt.Sprintf("%d (%d failed)", t.Transcriptions, t.FailedTranscriptions)))

	if res.Last != nil && len(res.Last.Recent) > 0 {
		fmt.Fprintln(a.stdout, SectionStyle.Render("Last session"))
		for _, g := range res.Last.Recent {
			status := SuccessStyle.Render("[OK]")
			if g.Failed {
				status = ErrorStyle.Render("[X]")
			}
			fmt.Fprintf(a.stdout, "%s %s %6s  %s\n", status, g.Timestamp.Format("15:04"),
				g.Duration.Round(100*time.Millisecond), DimStyle.Render(g.Prompt))
		}
	}
}
