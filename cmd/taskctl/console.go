package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
)

var (
	okColor     = color.New(color.FgGreen)
	errColor    = color.New(color.FgRed)
	headerColor = color.New(color.FgCyan, color.Bold)
	dimColor    = color.New(color.Faint)
)

func statusColor(st model.WorkflowStatus) *color.Color {
	switch st {
	case model.StatusSuspended:
		return color.New(color.FgYellow, color.Bold)
	case model.StatusRunning, model.StatusContinuedAsNew:
		return color.New(color.FgBlue)
	case model.StatusCompleted:
		return color.New(color.FgGreen)
	case model.StatusFailed, model.StatusTerminated, model.StatusTimedOut:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

type console struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{out: out}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

func (c *console) renderView(v dashboard.View) {
	headerColor.Fprintf(c.out, "━━━ Page %d (size %d) ━━━\n", v.Pagination.PageIndex+1, v.Pagination.PageSize)
	if v.Status == dashboard.StatusError {
		errColor.Fprintln(c.out, v.Message)
		return
	}
	if len(v.Rows) == 0 {
		dimColor.Fprintln(c.out, v.Message)
	} else {
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tID\tWORKFLOW\tSTATUS")
		for _, t := range v.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.CreatedAt, t.ID, t.WorkflowID, statusColor(t.Status).Sprint(t.Status))
		}
		_ = tw.Flush()
	}

	summary := fmt.Sprintf("%d rows", v.PageRowCount)
	if v.TotalEntries != nil {
		summary += " of " + v.TotalEntries.String()
	}
	var nav []string
	if v.CanPreviousPage {
		nav = append(nav, "prev")
	}
	if v.CanNextPage {
		nav = append(nav, "next")
	}
	dimColor.Fprintf(c.out, "%s | known pages: %d | %s\n", summary, v.KnownPages, strings.Join(nav, " "))
}

func (c *console) renderToasts(ns []dashboard.Notification) {
	for _, n := range ns {
		if n.IsError {
			errColor.Fprintf(c.out, "✗ %s: %s\n", n.Title, n.Description)
			continue
		}
		okColor.Fprintf(c.out, "✓ %s: %s\n", n.Title, n.Description)
	}
}

func (c *console) renderTask(t model.Task) {
	headerColor.Fprintf(c.out, "Task %s ", t.ID)
	statusColor(t.Status).Fprintln(c.out, t.Status)
	for _, f := range t.EntryFields {
		marker := " "
		if f.EditableConfig.IsEditable {
			marker = "*"
		}
		fmt.Fprintf(c.out, "  %s %s: %s\n", marker, f.Label(), f.DisplayValue())
	}
}

const loopHelp = "commands: next, prev, first, refresh, size N, show ID, set ID FIELD VALUE, status ID STATUS, quit"

// loop reads one command per line and redraws the grid after each.
func (c *console) loop(ctx context.Context, s *dashboard.Session) error {
	if c.in == nil {
		return errors.New("interactive mode needs input")
	}
	v, err := s.Settle(ctx)
	if err != nil {
		return err
	}
	c.renderView(v)
	for {
		fmt.Fprint(c.out, "> ")
		line, err := c.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		quit, cmdErr := c.exec(ctx, s, strings.Fields(line))
		if cmdErr != nil {
			errColor.Fprintln(c.out, cmdErr)
		}
		if quit || errors.Is(err, io.EOF) {
			return nil
		}
		c.renderToasts(s.Toasts.Drain())
	}
}

func (c *console) redraw(ctx context.Context, s *dashboard.Session) error {
	s.Grid.Load(ctx)
	v, err := s.Grid.Settle(ctx)
	if err != nil {
		return err
	}
	c.renderView(v)
	return nil
}

func (c *console) exec(ctx context.Context, s *dashboard.Session, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "q", "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, loopHelp)
		return false, nil
	case "n", "next":
		if err := s.Grid.NextPage(); err != nil {
			return false, err
		}
	case "p", "prev":
		if err := s.Grid.PreviousPage(); err != nil {
			return false, err
		}
	case "first":
		s.Grid.FirstPage()
	case "r", "refresh":
		s.Grid.Refetch(ctx)
	case "size":
		var n int
		if len(args) != 2 {
			return false, errors.New("usage: size N")
		}
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
			return false, fmt.Errorf("size: %w", err)
		}
		if err := s.Grid.SetPageSize(n); err != nil {
			return false, err
		}
	case "show":
		if len(args) != 2 {
			return false, errors.New("usage: show ID")
		}
		t, ok := s.FindTask(model.TaskID(args[1]))
		if !ok {
			return false, fmt.Errorf("task %s is not on this page", args[1])
		}
		c.renderTask(t)
		return false, nil
	case "set", "status":
		return false, c.edit(ctx, s, args)
	default:
		return false, fmt.Errorf("unknown command %q; %s", args[0], loopHelp)
	}
	return false, c.redraw(ctx, s)
}

func (c *console) edit(ctx context.Context, s *dashboard.Session, args []string) error {
	var form dashboard.EditForm
	switch {
	case args[0] == "set" && len(args) >= 4:
		form.Fields = map[string]string{args[2]: strings.Join(args[3:], " ")}
	case args[0] == "status" && len(args) == 3:
		st, err := model.ParseWorkflowStatus(args[2])
		if err != nil {
			return err
		}
		form.Status = &st
	default:
		return errors.New("usage: set ID FIELD VALUE | status ID STATUS")
	}
	t, ok := s.FindTask(model.TaskID(args[1]))
	if !ok {
		return fmt.Errorf("task %s is not on this page", args[1])
	}
	if _, err := s.Editor(t).Submit(ctx, form); err != nil {
		return err
	}
	v := s.Grid.View()
	c.renderView(v)
	return nil
}
