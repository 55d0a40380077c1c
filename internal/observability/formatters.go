// Package observability renders human readable summaries for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/visibility-gap/internal/pipeline"
	"github.com/jonathan/visibility-gap/internal/types"
)

const (
	panelWidth = 60
	topN       = 5
)

// Printer writes framed summaries to out.
type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// panel collects the body lines of one framed block.
type panel struct {
	title string
	lines []string
}

func (b *panel) add(format string, args ...any) {
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

func (b *panel) blank() { b.lines = append(b.lines, "") }

// render frames the panel. Lines wider than the frame are cut.
//
//nolint:errcheck // terminal output
func (p *Printer) render(b *panel) {
	inner := panelWidth - 4
	rule := strings.Repeat("─", panelWidth-2)

	fmt.Fprintf(p.out, "┌%s┐\n│ %-*s │\n├%s┤\n", rule, inner, b.title, rule)
	for _, l := range b.lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", inner, clip(l, inner))
	}
	fmt.Fprintf(p.out, "└%s┘\n", rule)
}

// clip shortens s to n runes, marking the cut with "...".
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintOpportunities shows the best ranked opportunities and where each one appears.
func (p *Printer) PrintOpportunities(opps []types.Opportunity) {
	if len(opps) == 0 {
		p.render(&panel{title: "OPPORTUNITIES", lines: []string{"No opportunities found"}})
		return
	}

	b := &panel{title: "TOP OPPORTUNITIES"}
	b.add("Total opportunities: %d", len(opps))
	for i, o := range opps[:min(len(opps), topN)] {
		b.blank()
		b.add("#%d  %s (%s)", i+1, o.Domain, o.DomainType)
		b.add("    Score: %d  %s", o.Score, presence(o))
		if o.BestSearchPosition > 0 {
			b.add("    Best position: %d", o.BestSearchPosition)
		}
		if o.BestURL != "" {
			b.add("    URL: %s", clip(o.BestURL, 45))
		}
		if o.IsCompetitor {
			b.add("    ⚠ competitor")
		}
	}
	if rest := len(opps) - topN; rest > 0 {
		b.blank()
		b.add("... and %d more opportunities", rest)
	}
	p.render(b)
}

func presence(o types.Opportunity) string {
	var parts []string
	if o.InSearch {
		parts = append(parts, fmt.Sprintf("search×%d", o.SearchCount))
	}
	if o.InCitation {
		parts = append(parts, fmt.Sprintf("citation×%d", o.CitationCount))
	}
	if o.InBoth {
		parts = append(parts, "✓both")
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// PrintClassifications groups verdicts by domain type, three example domains per type.
func (p *Printer) PrintClassifications(results []types.ClassifiedDomain) {
	if len(results) == 0 {
		return
	}

	grouped := make(map[types.DomainType][]string)
	for _, r := range results {
		grouped[r.DomainType] = append(grouped[r.DomainType], r.Domain)
	}

	b := &panel{title: "DOMAIN CLASSIFICATION"}
	b.add("Classified %d domains:", len(results))
	for _, t := range types.AllDomainTypes() {
		domains := grouped[t]
		if len(domains) == 0 {
			continue
		}
		examples := strings.Join(domains[:min(len(domains), 3)], ", ")
		if len(domains) > 3 {
			examples += ", ..."
		}
		b.add("  %-14s %d  %s", t, len(domains), examples)
	}
	p.render(b)
}

// PrintEstimate shows the token and cost projection of a launch.
func (p *Printer) PrintEstimate(est pipeline.Estimate) {
	b := &panel{title: "COST ESTIMATE"}
	b.add("Search:   %d queries, %d tokens, $%.4f", est.Queries, est.SearchTokens, est.SearchCostUSD)
	b.add("Citation: %d prompts, %d tokens, $%.4f", est.Prompts, est.CitationTokens, est.CitationCostUSD)
	for _, pe := range est.Providers {
		note := ""
		if pe.Default {
			note = " (default rate)"
		}
		b.add("  • %s: %d calls, $%.4f%s", pe.Provider, pe.Calls, pe.CostUSD, note)
	}
	b.blank()
	b.add("Total:    %d tokens, $%.4f", est.TotalTokens, est.TotalCostUSD)
	for _, w := range est.Warnings {
		b.add("⚠ %s", w)
	}
	p.render(b)
}

var statusIcons = map[types.JobStatus]string{
	types.JobCompleted: "✓",
	types.JobFailed:    "✗",
	types.JobIdle:      "·",
}

// PrintJobs shows the latest state of each analysis job.
func (p *Printer) PrintJobs(jobs []types.AnalysisJob) {
	b := &panel{title: "ANALYSIS JOBS"}
	if len(jobs) == 0 {
		b.add("No jobs")
	}
	for _, j := range jobs {
		icon, ok := statusIcons[j.Status]
		if !ok {
			icon = "…"
		}
		line := fmt.Sprintf("%s %-8s %-9s %3.0f%%", icon, j.Kind, j.Status, j.Progress*100)
		if j.ExternalRunID != "" {
			line += "  run " + j.ExternalRunID
		}
		b.lines = append(b.lines, line)
		if j.Error != "" {
			b.add("  %s", clip(j.Error, 50))
		}
	}
	p.render(b)
}
