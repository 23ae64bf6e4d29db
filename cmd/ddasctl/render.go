package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/processor"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func outcomeLabel(o processor.Outcome, colorize bool) string {
	if !colorize {
		return string(o)
	}
	switch o {
	case processor.OutcomeUploaded:
		return text.FgGreen.Sprint(o)
	case processor.OutcomeDuplicate:
		return text.FgYellow.Sprint(o)
	default:
		return text.FgRed.Sprint(o)
	}
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func renderResult(w io.Writer, r processor.Result, colorize bool) {
	fmt.Fprintf(w, "%s  %s\n", outcomeLabel(r.Outcome, colorize), r.Message)
	if r.Fingerprint != "" {
		fmt.Fprintf(w, "  fingerprint  %s\n", r.Fingerprint)
	}
	if r.Size > 0 {
		fmt.Fprintf(w, "  size         %s\n", sizeLabel(r.Size))
	}
	if r.OriginalFilename != "" {
		fmt.Fprintf(w, "  original     %s\n", r.OriginalFilename)
	}
	if r.Code != "" {
		fmt.Fprintf(w, "  code         %s\n", r.Code)
	}
	fmt.Fprintf(w, "  elapsed      %s\n", time.Duration(r.ElapsedMS)*time.Millisecond)
}

func renderStatus(w io.Writer, s agent.Status, colorize bool) {
	fmt.Fprintf(w, "Uptime   %s (since %s)\n", s.Uptime, s.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Watcher  %s", s.WatcherState)
	if s.Watcher != nil {
		fmt.Fprintf(w, "  %s", s.Watcher.Dir)
		if s.Watcher.Backend != "" {
			fmt.Fprintf(w, " (%s)", s.Watcher.Backend)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results  %d uploaded, %d duplicate, %d failed\n",
		s.Totals.Uploaded, s.Totals.Duplicate, s.Totals.Failed)

	if s.Watcher != nil {
		c := s.Watcher.Counters
		fmt.Fprintf(w, "Files    %d discovered, %d ready, %d abandoned, %d done, %d ignored\n",
			c.Discovered, c.Ready, c.Abandoned, c.Done, c.Ignored)

		if len(s.Watcher.Tracked) > 0 {
			rows := make([][]string, 0, len(s.Watcher.Tracked))
			for _, tf := range s.Watcher.Tracked {
				rows = append(rows, []string{
					tf.Path,
					string(tf.State),
					sizeLabel(tf.LastSeenSize),
					strconv.Itoa(tf.StableReadings),
					humanize.Time(tf.FirstSeen),
				})
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, renderTable(
				[]string{"Path", "State", "Size", "Stable", "First seen"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
		}
	}

	if len(s.InFlight) > 0 {
		fmt.Fprintf(w, "\nIn flight: %s\n", strings.Join(s.InFlight, ", "))
	}

	if len(s.Recent) > 0 {
		rows := make([][]string, 0, len(s.Recent))
		for _, r := range s.Recent {
			rows = append(rows, []string{
				humanize.Time(r.StartedAt),
				outcomeLabel(r.Outcome, colorize),
				r.Filename,
				sizeLabel(r.Size),
				r.Message,
			})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(
			[]string{"When", "Outcome", "File", "Size", "Message"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
}
