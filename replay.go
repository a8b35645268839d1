package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/onnwee/chatpoll/chat"
	"github.com/onnwee/chatpoll/config"
	"github.com/onnwee/chatpoll/ledger"
)

var (
	replayRaw       bool
	replayEvery     int
	replayTop       int
	replayThreshold float64
)

var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Feed a chat log through the ledger and print the ranking",
	Long: `Reads one chat message per line from file (or stdin when omitted or "-"),
cleans it the way the live reader does and counts it. Lines are replayed
instantly, so nothing decays during a replay.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s := cfg.Ledger
		if cmd.Flags().Changed("top") {
			s.Top = replayTop
		}
		if cmd.Flags().Changed("threshold") {
			s.Threshold = replayThreshold
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return replay(in, cmd.OutOrStdout(), s, !replayRaw, replayEvery)
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayRaw, "raw", false, "count lines as-is instead of cleaning them")
	replayCmd.Flags().IntVar(&replayEvery, "every", 0, "also print the table after every N lines")
	replayCmd.Flags().IntVar(&replayTop, "top", ledger.DefaultTop, "entries to show")
	replayCmd.Flags().Float64Var(&replayThreshold, "threshold", ledger.DefaultThreshold, "fuzzy match threshold in [0,1]")
}

// replay counts every line of in and prints the final ranking to out.
func replay(in io.Reader, out io.Writer, s ledger.Settings, clean bool, every int) error {
	l, err := ledger.New(s)
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines, counted := 0, 0
	for sc.Scan() {
		text := sc.Text()
		if clean {
			text = chat.CleanMessage(text)
		}
		lines++
		if l.Ingest(text) {
			counted++
		}
		if every > 0 && lines%every == 0 {
			fmt.Fprintf(out, "after %d lines\n", lines)
			printTable(out, l.Snapshot())
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read chat log: %w", err)
	}
	fmt.Fprintf(out, "%d lines, %d counted, %d distinct\n", lines, counted, l.Len())
	printTable(out, l.Snapshot())
	return nil
}

func printTable(w io.Writer, snap ledger.Snapshot) {
	if len(snap) == 0 {
		fmt.Fprintln(w, color.New(color.FgHiBlack).Sprint("  (empty)"))
		return
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	width := 0
	for _, e := range snap {
		width = max(width, len(fmt.Sprint(e.Count)))
	}
	maxCount := snap[0].Count
	for i, e := range snap {
		bar := strings.Repeat("█", max(1, e.Count*20/maxCount))
		fmt.Fprintf(w, "%s %*d %s %s\n", gray(fmt.Sprintf("%3d.", i+1)), width, e.Count, green(bar), cyan(e.Text))
	}
}
