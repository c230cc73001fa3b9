package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jaypaulb/sdbridge/core"
	"github.com/jaypaulb/sdbridge/db"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func historyCmd() *cli.Command {
	var path string

	open := func() (*db.Database, error) {
		p := path
		if p == "" {
			p = defaultHistoryPath()
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no history at %s", p)
		}
		return db.Open(p)
	}

	return &cli.Command{
		Name:  "history",
		Usage: "List, show and prune recorded generation runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "history database path", Destination: &path},
		},
		Commands: []*cli.Command{
			historyListCmd(open),
			historyShowCmd(open),
			historyPruneCmd(open),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return listRuns(ctx, open, 10)
		},
	}
}

type opener func() (*db.Database, error)

func historyListCmd(open opener) *cli.Command {
	var limit int
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List recent runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Destination: &limit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return listRuns(ctx, open, limit)
		},
	}
}

func listRuns(ctx context.Context, open opener, limit int) error {
	database, err := open()
	if err != nil {
		return err
	}
	defer database.Close()

	repo := db.NewRepository(database)
	runs, err := repo.QueryRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	total, err := repo.CountRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	writeRunTable(os.Stdout, runs, time.Now())
	fmt.Println(color.HiBlackString("%d of %s runs", len(runs), core.FormatCount(total)))
	return nil
}

func writeRunTable(w io.Writer, runs []db.GenerationRun, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tSTATUS\tSAMPLER\tSTEPS\tSIZE\tSEED\tTIME\tPROMPT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dx%d\t%d\t%s\t%s\n",
			shortID(r.ID),
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			statusLabel(r.Status),
			r.SampleMethod,
			r.Steps,
			r.Width, r.Height,
			r.Seed,
			(time.Duration(r.DurationMS) * time.Millisecond).Round(100*time.Millisecond),
			truncate(r.Prompt, 48),
		)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusLabel(status string) string {
	switch status {
	case db.RunStatusSuccess:
		return color.GreenString(status)
	case db.RunStatusCanceled:
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

func historyShowCmd(open opener) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one run and its images",
		ArgsUsage: "<run id or prefix>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return usageError(fmt.Errorf("expected one run id"))
			}
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()

			repo := db.NewRepository(database)
			run, err := repo.GetRun(ctx, cmd.Args().First())
			if err != nil {
				if errors.Is(err, db.ErrRunNotFound) || errors.Is(err, db.ErrAmbiguousRunID) {
					return usageError(err)
				}
				return err
			}
			images, err := repo.ImagesForRun(ctx, run.ID)
			if err != nil {
				return err
			}
			writeRunDetail(os.Stdout, run, images)
			return nil
		},
	}
}

func writeRunDetail(w io.Writer, r *db.GenerationRun, images []db.GeneratedImage) {
	fmt.Fprintf(w, "id:        %s\n", r.ID)
	fmt.Fprintf(w, "created:   %s\n", r.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "status:    %s\n", r.Status)
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "error:     %s\n", r.ErrorMessage)
	}
	fmt.Fprintf(w, "model:     %s\n", r.ModelPath)
	fmt.Fprintf(w, "prompt:    %s\n", r.Prompt)
	if r.NegativePrompt != "" {
		fmt.Fprintf(w, "negative:  %s\n", r.NegativePrompt)
	}
	fmt.Fprintf(w, "sampler:   %s, %d steps, cfg %.1f, clip skip %d\n", r.SampleMethod, r.Steps, r.CFGScale, r.ClipSkip)
	fmt.Fprintf(w, "size:      %dx%d x%d\n", r.Width, r.Height, r.BatchCount)
	fmt.Fprintf(w, "seed:      %d\n", r.Seed)
	fmt.Fprintf(w, "duration:  %s\n", time.Duration(r.DurationMS)*time.Millisecond)
	for _, img := range images {
		fmt.Fprintf(w, "image %d:   %s (seed %d, sha256 %s)\n", img.Index, img.Path, img.Seed, shortID(img.SHA256))
	}
}

func historyPruneCmd(open opener) *cli.Command {
	var (
		olderThan   time.Duration
		deleteFiles bool
	)
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete runs older than a given age",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Usage: "age cutoff, e.g. 720h", Value: 30 * 24 * time.Hour, Destination: &olderThan},
			&cli.BoolFlag{Name: "delete-files", Usage: "also remove the image files", Destination: &deleteFiles},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if olderThan <= 0 {
				return usageError(fmt.Errorf("--older-than must be positive"))
			}
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()

			res, err := database.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			logger.Info("Pruned history",
				zap.Int64("runs", res.RunsDeleted),
				zap.Int64("images", res.ImagesDeleted),
				zap.Duration("duration", res.Duration),
			)
			fmt.Printf("removed %d runs, %d image records\n", res.RunsDeleted, res.ImagesDeleted)

			if deleteFiles && len(res.ImagePaths) > 0 {
				removed, err := removeFiles(res.ImagePaths)
				fmt.Printf("deleted %d image files\n", removed)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// removeFiles deletes paths, ignoring files that are already gone.
func removeFiles(paths []string) (removed int, err error) {
	var errs []error
	for _, p := range paths {
		if rmErr := os.Remove(p); rmErr == nil {
			removed++
		} else if !errors.Is(rmErr, os.ErrNotExist) {
			errs = append(errs, rmErr)
		}
	}
	return removed, errors.Join(errs...)
}
