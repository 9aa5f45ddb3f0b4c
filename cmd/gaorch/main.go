package main

// Run analyses and maintain result collections from the terminal:
//   go run ./cmd/gaorch run -f batch.yaml
//   go run ./cmd/gaorch estimate -f batch.yaml -minutes 30
//   go run ./cmd/gaorch export -collection pagerank_results -format csv -key exports/pr.csv

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"gae-orchestrator/internal/shared/config"
)

type command struct {
	summary string
	run     func(ctx context.Context, env *cliEnv, args []string) error
}

// cliEnv carries what every subcommand needs.
type cliEnv struct {
	cfg    config.Config
	stdout io.Writer
	stderr io.Writer
}

var commands = map[string]command{
	"run":      {"run a batch of analyses from a YAML or JSON file", runCmd},
	"estimate": {"estimate engine cost for a batch file", estimateCmd},
	"engines":  {"list deployed engines (managed mode)", enginesCmd},
	"check":    {"validate configuration and test connectivity", checkCmd},
	"indexes":  {"ensure id indexes on result collections", indexesCmd},
	"export":   {"export a result collection to the object store", exportCmd},
	"history":  {"list recorded runs from the ledger", historyCmd},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := dispatch(ctx, config.Load(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func dispatch(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
	env := &cliEnv{cfg: cfg, stdout: stdout, stderr: stderr}
	if err := cmd.run(ctx, env, args[1:]); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: gaorch <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].summary)
	}
}

// splitList turns "a, b,,c" into [a b c].
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
