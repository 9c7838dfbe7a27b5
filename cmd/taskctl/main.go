package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/client"
	"github.com/gofixpoint/fixpoint/internal/dashboard"
	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = cmdLogin(os.Args[2:], os.Stdin, os.Stdout)
	case "list":
		err = cmdList(os.Args[2:], os.Stdin, os.Stdout)
	case "edit":
		err = cmdEdit(os.Args[2:], os.Stdout)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: taskctl <command> [flags]

commands:
  login  -server URL -email ADDRESS    sign in with a one-time code
  list   [-page-size N] [-i]           show tasks; -i browses interactively
  edit   -id ID [-status S] [-set field=value ...]`)
}

type savedSession struct {
	Server     string `json:"server"`
	CookieName string `json:"cookieName"`
	Cookie     string `json:"cookie"`
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".taskctl-session.json"
	}
	return filepath.Join(dir, "fixpoint", "session.json")
}

func loadSession(path string) (savedSession, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return savedSession{}, fmt.Errorf("not signed in; run taskctl login first")
	}
	if err != nil {
		return savedSession{}, err
	}
	var s savedSession
	if err := json.Unmarshal(b, &s); err != nil {
		return savedSession{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

func saveSession(path string, s savedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func clientFor(path string) (*client.Client, error) {
	s, err := loadSession(path)
	if err != nil {
		return nil, err
	}
	return client.New(client.Options{
		BaseURL:       s.Server,
		SessionCookie: &http.Cookie{Name: s.CookieName, Value: s.Cookie},
	})
}

func cmdLogin(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "fixpoint server base URL")
	email := fs.String("email", "", "email address to sign in with")
	sessionPath := fs.String("session", defaultSessionPath(), "where to keep the session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return fmt.Errorf("email is required")
	}

	c, err := client.New(client.Options{BaseURL: *server})
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := c.RequestOTP(ctx, *email); err != nil {
		return err
	}
	fmt.Fprint(stdout, "Code from the server log: ")
	code, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := c.VerifyOTP(ctx, *email, strings.TrimSpace(code)); err != nil {
		return err
	}
	ck := c.SessionCookie()
	if err := saveSession(*sessionPath, savedSession{Server: *server, CookieName: ck.Name, Cookie: ck.Value}); err != nil {
		return err
	}
	okColor.Fprintf(stdout, "Signed in as %s\n", *email)
	return nil
}

func cmdList(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	pageSize := fs.Int("page-size", dashboard.DefaultPageSize, "rows per page")
	interactive := fs.Bool("i", false, "browse pages interactively")
	timeout := fs.Duration("timeout", 15*time.Second, "per-page fetch timeout")
	sessionPath := fs.String("session", defaultSessionPath(), "session file written by login")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := clientFor(*sessionPath)
	if err != nil {
		return err
	}

	s := dashboard.NewSession(dashboard.SessionOptions{
		Fetcher:      c,
		Updater:      c,
		PageSize:     *pageSize,
		FetchTimeout: *timeout,
		Logger:       zap.NewNop(),
	})
	con := newConsole(stdin, stdout)
	if !*interactive {
		v, err := s.Settle(context.Background())
		if err != nil {
			return err
		}
		con.renderView(v)
		return nil
	}
	return con.loop(context.Background(), s)
}

// setFlags collects repeated -set field=value flags.
type setFlags map[string]string

func (s setFlags) String() string { return fmt.Sprint(map[string]string(s)) }

func (s setFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected field=value, got %q", v)
	}
	s[strings.TrimSpace(k)] = val
	return nil
}

func cmdEdit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	id := fs.String("id", "", "task id")
	status := fs.String("status", "", "new workflow status")
	fields := setFlags{}
	fs.Var(fields, "set", "field=value override; repeatable")
	sessionPath := fs.String("session", defaultSessionPath(), "session file written by login")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("id is required")
	}
	c, err := clientFor(*sessionPath)
	if err != nil {
		return err
	}
	return editTask(context.Background(), c, stdout, model.TaskID(*id), *status, fields)
}

type taskAPI interface {
	dashboard.TaskUpdater
	GetTask(ctx context.Context, id model.TaskID) ([]byte, error)
}

func editTask(ctx context.Context, api taskAPI, stdout io.Writer, id model.TaskID, status string, fields map[string]string) error {
	raw, err := api.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t, err := schema.ParseTask(raw)
	if err != nil {
		return err
	}

	toasts := dashboard.NewToastQueue(0)
	ed := dashboard.NewTaskEditor(t, dashboard.EditorOptions{Updater: api, Notifier: toasts})
	form := dashboard.EditForm{Fields: fields}
	if status != "" {
		st, err := model.ParseWorkflowStatus(status)
		if err != nil {
			return err
		}
		form.Status = &st
	}
	_, err = ed.Submit(ctx, form)
	con := newConsole(nil, stdout)
	con.renderToasts(toasts.Drain())
	return err
}
