// Command draftctl drives the draft API from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/catalog-drafts/internal/client"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

const usage = `usage: draftctl [global flags] <command> [flags]

commands:
  ingest         create a draft from --url, --text or --file
  get            show a draft
  list           list drafts
  wait           wait until a draft leaves new/processing
  update         patch final_data
  generate-name  generate the display name
  commit         push a draft to the catalog
  search         find catalog analogs for --query or --draft
  export         download drafts as XLSX
  ingest-dir     upload every supported file under --dir
  chat           send one chat message and render the reply

global flags:
`

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	global := flag.NewFlagSet("draftctl", flag.ExitOnError)
	server := global.String("server", getenv("DRAFTS_URL", "http://localhost:8081"), "API base URL")
	token := global.String("token", os.Getenv("DRAFTS_TOKEN"), "bearer token")
	timeout := global.Duration("timeout", 60*time.Second, "per-request timeout")
	logLevel := global.String("log-level", "warn", "log level")
	global.Usage = func() {
		printError(usage)
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	logger := common.NewLogger(common.LogConfig{Level: *logLevel, Format: "text"}, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &cli{
		api:    client.New(client.Config{BaseURL: *server, Token: *token, Timeout: *timeout}, logger),
		out:    os.Stdout,
		logger: logger,
	}
	cmd, args := global.Arg(0), global.Args()[1:]
	if err := cli.run(ctx, cmd, args); err != nil {
		printError("Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

type cli struct {
	api    *client.Client
	out    io.Writer
	logger *slog.Logger
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ingest":
		return c.ingest(ctx, args)
	case "get":
		return c.get(ctx, args)
	case "list":
		return c.list(ctx, args)
	case "wait":
		return c.wait(ctx, args)
	case "update":
		return c.update(ctx, args)
	case "generate-name":
		return c.generateName(ctx, args)
	case "commit":
		return c.commit(ctx, args)
	case "search":
		return c.search(ctx, args)
	case "export":
		return c.export(ctx, args)
	case "ingest-dir":
		return c.ingestDir(ctx, args)
	case "chat":
		return c.chat(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
