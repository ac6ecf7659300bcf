package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/recorder"
)

// renderer prints recorder entries one per line:
//
//	[A] Vanilla  hello
//	[B] Library  hello
//	Vanilla JS: 1.20ms | Library: 4.80ms | Difference: 75.0% faster
type renderer struct {
	out io.Writer

	badgeA, badgeB *color.Color
	levels         map[event.Level]*color.Color
	summary        *color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:    out,
		badgeA: color.New(color.FgBlack, color.BgYellow),
		badgeB: color.New(color.FgBlack, color.BgCyan),
		levels: map[event.Level]*color.Color{
			event.LevelLog:   color.New(color.Reset),
			event.LevelInfo:  color.New(color.FgBlue),
			event.LevelWarn:  color.New(color.FgYellow),
			event.LevelError: color.New(color.FgRed),
		},
		summary: color.New(color.FgGreen, color.Bold),
	}
}

func (r *renderer) updates(us []recorder.Update) {
	for _, u := range us {
		r.update(u)
	}
}

func (r *renderer) update(u recorder.Update) {
	if u.Type == recorder.UpdateClear {
		return
	}
	r.entry(u.Entry)
}

func (r *renderer) entry(e recorder.Entry) {
	if e.Kind == recorder.KindPerformance {
		fmt.Fprintln(r.out, r.summary.Sprint(e.Message))
		return
	}

	c, ok := r.levels[e.Level]
	if !ok {
		c = r.levels[event.LevelLog]
	}
	fmt.Fprintf(r.out, "%s %s\n", r.badge(e.Side), c.Sprint(e.Message))
}

func (r *renderer) badge(side event.Side) string {
	switch side {
	case event.SideA:
		return r.badgeA.Sprint("[A] Vanilla")
	case event.SideB:
		return r.badgeB.Sprint("[B] Library")
	}
	return "[?]"
}

func printCatalog(out io.Writer, catalog *pattern.Catalog) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tLIBRARY")
	for _, p := range catalog.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Title, p.LibraryName)
	}
	tw.Flush()
}
