package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/arbor/internal/config"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/service"
)

// runAdmin dispatches admin subcommands (verify, rebuild, tree).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "verify":
		return runAdminVerify(args[1:])
	case "rebuild":
		return runAdminRebuild(args[1:])
	case "tree":
		return runAdminTree(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprint(os.Stderr, `Usage: arbor admin <command> --forest <id> [options]

Commands:
  verify    Check a forest's nested-set invariants
  rebuild   Renumber a forest from its parent links
  tree      Print a forest
  help      Show this help message

Options:
  --forest <id>     forest to operate on (required)
  --config <path>   YAML config (default arbor.yaml)
  --json            force JSON output; the default is a table on a
                    terminal and JSON otherwise

Examples:
  arbor admin verify --forest 0b6c...
  arbor admin tree --forest 0b6c... --json | jq .
`)
}

type adminFlags struct {
	forest string
	json   bool
}

func parseAdminFlags(name string, args []string) (adminFlags, *config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	forest := fs.String("forest", "", "forest ID (required)")
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	asJSON := fs.Bool("json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return adminFlags{}, nil, err
	}
	if *forest == "" {
		return adminFlags{}, nil, fmt.Errorf("--forest is required")
	}
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return adminFlags{}, nil, fmt.Errorf("load config: %w", err)
	}
	return adminFlags{forest: *forest, json: *asJSON || !term.IsTerminal(int(os.Stdout.Fd()))}, cfg, nil
}

func loadTreeService(ctx context.Context, cfg *config.Config) (*service.TreeService, func(), error) {
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return nil, nil, err
	}
	return service.NewTreeService(store, nil), store.Close, nil
}

func runAdminVerify(args []string) error {
	f, cfg, err := parseAdminFlags("verify", args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, cleanup, err := loadTreeService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := svc.Verify(ctx, f.forest)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if f.json {
		if err := writeJSON(os.Stdout, rep); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, rep)
	}
	if !rep.Valid {
		return fmt.Errorf("forest %s has %d violations", f.forest, len(rep.Violations))
	}
	return nil
}

func runAdminRebuild(args []string) error {
	f, cfg, err := parseAdminFlags("rebuild", args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, cleanup, err := loadTreeService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.Rebuild(ctx, f.forest)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	if f.json {
		return writeJSON(os.Stdout, res)
	}
	fmt.Fprintf(os.Stdout, "Rebuilt forest %s: %d nodes rewritten, revision %d\n", f.forest, res.Changed, res.Revision)
	return nil
}

func runAdminTree(args []string) error {
	f, cfg, err := parseAdminFlags("tree", args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	svc, cleanup, err := loadTreeService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if f.json {
		roots, err := svc.ForestTree(ctx, f.forest)
		if err != nil {
			return fmt.Errorf("tree: %w", err)
		}
		return writeJSON(os.Stdout, roots)
	}
	snap, err := svc.ForestNodes(ctx, f.forest)
	if err != nil {
		return fmt.Errorf("tree: %w", err)
	}
	return printTree(os.Stdout, snap.Nodes)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep *nestedset.Report) {
	state := "valid"
	if !rep.Valid {
		state = "INVALID"
	}
	fmt.Fprintf(w, "Forest %s: %d nodes, %s\n", rep.ForestID, rep.Nodes, state)
	if len(rep.Violations) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tNODE\tDETAIL")
	for _, v := range rep.Violations {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Kind, v.NodeID, v.Detail)
	}
	_ = tw.Flush()
}

// printTree renders nodes (in lft order) indented by depth with their bounds.
func printTree(w io.Writer, nodes []nestedset.Node) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tLFT\tRGT\tID")
	var open []int64 // rgt of each enclosing node
	for _, n := range nodes {
		for len(open) > 0 && open[len(open)-1] < n.Lft {
			open = open[:len(open)-1]
		}
		label := n.Ref
		if label == "" {
			label = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s%s\t%d\t%d\t%s\n", strings.Repeat("  ", len(open)), label, n.Lft, n.Rgt, n.ID)
		open = append(open, n.Rgt)
	}
	return tw.Flush()
}
