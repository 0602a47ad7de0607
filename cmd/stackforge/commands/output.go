package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/stackforge/stackforge/pkg/engine"
)

var (
	statusNew       = color.New(color.FgGreen).SprintFunc()
	statusChanged   = color.New(color.FgYellow).SprintFunc()
	statusUnchanged = color.New(color.Faint).SprintFunc()
	diffAdd         = color.New(color.FgGreen).SprintFunc()
	diffDel         = color.New(color.FgRed).SprintFunc()
	diffHunk        = color.New(color.FgCyan).SprintFunc()
)

// printer renders command results as JSON or as text for a terminal.
type printer struct {
	out      io.Writer
	json     bool
	colorize bool
}

func newPrinter(out io.Writer, asJSON bool) *printer {
	return &printer{
		out:      out,
		json:     asJSON,
		colorize: isTerminalWriter(out) && !color.NoColor,
	}
}

func isTerminalWriter(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func (p *printer) paint(fn func(a ...interface{}) string, s string) string {
	if !p.colorize {
		return s
	}
	return fn(s)
}

func (p *printer) encodeJSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
}

func (p *printer) status(s engine.ArtifactStatus) string {
	switch s {
	case engine.StatusNotFound:
		return p.paint(statusNew, string(s))
	case engine.StatusDifferent:
		return p.paint(statusChanged, string(s))
	default:
		return p.paint(statusUnchanged, string(s))
	}
}

func (p *printer) diff(d string) {
	for _, line := range strings.SplitAfter(d, "\n") {
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(p.out, line)
		case strings.HasPrefix(line, "+"):
			fmt.Fprint(p.out, p.paint(diffAdd, line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprint(p.out, p.paint(diffDel, line))
		case strings.HasPrefix(line, "@@"):
			fmt.Fprint(p.out, p.paint(diffHunk, line))
		default:
			fmt.Fprint(p.out, line)
		}
	}
}

func (p *printer) analysis(a *engine.Analysis) error {
	if p.json {
		return p.encodeJSON(a)
	}

	fmt.Fprintf(p.out, "Repository: %s\n", a.Repo.FullName())
	fmt.Fprintf(p.out, "Mode:       %s\n", a.Mode)
	if a.PrimaryServiceID != "" {
		fmt.Fprintf(p.out, "Primary:    %s\n", a.PrimaryServiceID)
	}
	fmt.Fprintln(p.out)

	tw := p.table()
	fmt.Fprintln(tw, "ID\tSTACK\tKIND\tDIRECTORY\tPORT\tDATABASE")
	for _, s := range a.Services {
		port := "-"
		if s.Port > 0 {
			port = fmt.Sprint(s.Port)
		}
		db := string(s.Database)
		if db == "" {
			db = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.StackType, s.Kind, s.WorkingDirectory, port, db)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(a.Relationships) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Relationships:")
		for _, r := range a.Relationships {
			fmt.Fprintf(p.out, "  %s -> %s (%s)\n", r.From, r.To, r.Type)
		}
		if g, err := engine.BuildServiceGraph(a.Services, a.Relationships); err == nil {
			fmt.Fprintf(p.out, "\nStartup order: %s\n", strings.Join(g.StartupOrder(), ", "))
		}
	}
	return nil
}

func (p *printer) preview(res *engine.PreviewResult, showContent bool) error {
	if p.json {
		return p.encodeJSON(res)
	}

	fmt.Fprintf(p.out, "%s preview (%s mode)\n\n", res.Artifact, res.Mode)
	tw := p.table()
	fmt.Fprintln(tw, "SERVICE\tPATH\tSTATUS")
	for _, a := range res.Artifacts {
		svc := a.ServiceID
		if svc == "" {
			svc = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", svc, a.Path, p.status(a.Status))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.ExistingFiles) > 0 {
		files := make([]string, 0, len(res.ExistingFiles))
		for _, f := range res.ExistingFiles {
			if names, ok := res.ExistingServices[f]; ok {
				f = fmt.Sprintf("%s (%d services: %s)", f, len(names), strings.Join(names, ", "))
			}
			files = append(files, f)
		}
		fmt.Fprintf(p.out, "\nExisting compose files: %s\n", strings.Join(files, "; "))
	}

	for _, a := range res.Artifacts {
		switch {
		case a.Status == engine.StatusDifferent && a.Diff != "":
			fmt.Fprintf(p.out, "\n# %s\n", a.Path)
			p.diff(a.Diff)
		case a.Status == engine.StatusNotFound || showContent:
			fmt.Fprintf(p.out, "\n# %s\n%s", a.Path, a.Proposed)
			if !strings.HasSuffix(a.Proposed, "\n") {
				fmt.Fprintln(p.out)
			}
		}
	}
	return nil
}

func (p *printer) apply(res *engine.ApplyResult) error {
	if p.json {
		return p.encodeJSON(res)
	}

	if res.Message != "" {
		fmt.Fprintln(p.out, res.Message)
	}
	if len(res.Files) > 0 {
		tw := p.table()
		fmt.Fprintln(tw, "SERVICE\tPATH\tRESULT\tCOMMIT")
		for _, f := range res.Files {
			svc := f.ServiceID
			if svc == "" {
				svc = "-"
			}
			result := p.paint(statusNew, "written")
			commit := shortHash(f.CommitHash)
			if f.Skipped {
				result = p.paint(statusUnchanged, "skipped")
				commit = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", svc, f.Path, result, commit)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if res.LedgerErrors > 0 {
		fmt.Fprintf(p.out, "warning: %d history record(s) could not be saved\n", res.LedgerErrors)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}
