package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"forgeflow/sdk/go/forgeflow"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		address string
		token   string
		timeout time.Duration
		limit   int
	)
	flagSet := pflag.NewFlagSet("forgeflowctl", pflag.ContinueOnError)
	flagSet.StringVar(&address, "address", envOr("FORGEFLOW_ADDRESS", "http://127.0.0.1:8080"), "daemon base URL")
	flagSet.StringVar(&token, "token", os.Getenv("FORGEFLOW_API_TOKEN"), "bearer token for publishing events")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	flagSet.IntVarP(&limit, "limit", "n", 20, "number of journal records to list")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(out, flagSet)
		return nil
	}

	client, err := forgeflow.NewClient(address, forgeflow.WithToken(token))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rest := flagSet.Args()
	switch rest[0] {
	case "health":
		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, health)
	case "journal":
		records, err := client.Journal(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(out, records)
	case "publish":
		if len(rest) < 2 {
			return errors.New("usage: forgeflowctl publish NAME [JSON_PAYLOAD]")
		}
		var payload any
		if len(rest) > 2 {
			if err := json.Unmarshal([]byte(rest[2]), &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}
		}
		if err := client.PublishEvent(ctx, rest[1], payload); err != nil {
			return err
		}
		fmt.Fprintf(out, "queued %s\n", rest[1])
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `forgeflowctl talks to a running forgeflow daemon.

Usage:
  forgeflowctl [flags] health
  forgeflowctl [flags] journal
  forgeflowctl [flags] publish NAME [JSON_PAYLOAD]

Flags:
%s`, flagSet.FlagUsages())
}
