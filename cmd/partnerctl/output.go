package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// printer writes either aligned text tables or JSON.
type printer struct {
	format string
	w      io.Writer
}

func (a *app) printer(cmd *cobra.Command) printer {
	return printer{format: a.opts.Format, w: cmd.OutOrStdout()}
}

// JSON reports whether output should be JSON.
func (p printer) JSON() bool { return p.format == "json" }

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// table prints rows under header. In JSON mode data is printed instead.
func (p printer) table(data any, header []string, rows [][]string) error {
	if p.JSON() {
		return p.json(data)
	}
	if len(rows) == 0 {
		p.line("(none)")
		return nil
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// rupees formats a whole-rupee amount, e.g. ₹2,500,000.
func rupees(amount int64) string {
	return "₹" + humanize.Comma(amount)
}

// paise formats an amount in paise, e.g. ₹1,500.50.
func paise(amount int64) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s₹%s.%02d", sign, humanize.Comma(amount/100), amount%100)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
