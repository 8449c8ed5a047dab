package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"Rivalz-Swarm/sdk/go/rivalz"
)

const usage = `rivalzctl talks to a running rivalzd.

Usage:
  rivalzctl [flags] chat                 interactive multi-agent conversation (default)
  rivalzctl [flags] query <text>         one RAG query against the knowledge base
  rivalzctl [flags] health               service and setup status
  rivalzctl [flags] setup [-wait] [dir]  queue a knowledge base setup
  rivalzctl [flags] jobs [filters]       list setup jobs (-status, -since, -q, ...)

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rivalzctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("rivalzctl", flag.ContinueOnError)
	fs.SetOutput(out)
	defaultAddr := os.Getenv("RIVALZ_URL")
	if defaultAddr == "" {
		defaultAddr = "http://127.0.0.1:8000"
	}
	addr := fs.String("addr", defaultAddr, "base URL of rivalzd (env RIVALZ_URL)")
	sessionID := fs.String("session", "", "resume an existing conversation")
	kbID := fs.String("kb", "", "knowledge base id for query")
	apiKey := fs.String("key", os.Getenv("RIVALZ_API_KEY"), "admin key for setup commands (env RIVALZ_API_KEY)")
	timeout := fs.Duration("timeout", 2*time.Minute, "per request timeout")
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	client, err := rivalz.NewClient(*addr, nil)
	if err != nil {
		return err
	}
	client.SetAPIKey(*apiKey)

	cmd, rest := "chat", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "chat":
		r := &repl{client: client, in: in, out: out, sessionID: *sessionID, timeout: *timeout}
		return r.Run(ctx)
	case "query":
		if len(rest) == 0 {
			return errors.New("query requires text")
		}
		resp, err := client.Query(ctx, rivalz.QueryRequest{Query: strings.Join(rest, " "), KnowledgeBaseID: *kbID})
		if err != nil {
			return err
		}
		return printJSON(out, resp)
	case "health":
		h, err := client.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, h)
	case "setup":
		return runSetup(ctx, client, rest, out)
	case "jobs":
		return runJobs(ctx, client, rest, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runSetup(ctx context.Context, client *rivalz.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(out)
	wait := fs.Bool("wait", false, "poll until the job finishes")
	name := fs.String("name", "", "knowledge base name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := rivalz.SetupRequest{KnowledgeBaseName: *name}
	if fs.NArg() > 0 {
		req.DocumentsDir = fs.Arg(0)
	}
	job, err := client.SubmitSetup(ctx, req)
	if err != nil {
		return err
	}
	if *wait {
		if job, err = client.WaitForSetup(ctx, job.ID, time.Second); err != nil {
			return err
		}
	}
	return printJSON(out, job)
}

func runJobs(ctx context.Context, client *rivalz.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(out)
	var filter rivalz.SetupFilter
	fs.IntVar(&filter.Limit, "limit", 20, "maximum jobs to list")
	fs.IntVar(&filter.Offset, "offset", 0, "jobs to skip")
	fs.BoolVar(&filter.Oldest, "oldest", false, "least recently updated first")
	fs.StringVar(&filter.Query, "q", "", "match id, knowledge base, documents dir or error")
	status := fs.String("status", "", "comma separated statuses")
	since := fs.Duration("since", 0, "only jobs updated within this window")
	hasKB := fs.String("has-kb", "", "true or false: whether the job produced a knowledge base")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *status != "" {
		filter.Statuses = strings.Split(*status, ",")
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	if *hasKB != "" {
		v, err := strconv.ParseBool(*hasKB)
		if err != nil {
			return fmt.Errorf("-has-kb: %w", err)
		}
		filter.HasKnowledgeBase = &v
	}
	jobs, err := client.ListSetups(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(out, jobs)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
