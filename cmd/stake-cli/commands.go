package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func dispatch(c *client, args []string, stdout, stderr io.Writer) int {
	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "pool":
		err = c.printGet(stdout, "/v1/pool")
	case "apy":
		err = c.printGet(stdout, "/v1/apy")
	case "position":
		err = withAddress(rest, func(addr common.Address) error {
			return c.printGet(stdout, "/v1/accounts/"+addr.Hex())
		})
	case "balances":
		err = withAddress(rest, func(addr common.Address) error {
			return c.printGet(stdout, "/v1/balances/"+addr.Hex())
		})
	case "events":
		err = runEvents(c, rest, stdout)
	case "export":
		err = runExport(c, rest, stdout, stderr)
	case "stake", "withdraw", "fund":
		err = withAmount(rest, func(amount string) error {
			return c.printCall(stdout, http.MethodPost, "/v1/"+command, map[string]string{"amount": amount})
		})
	case "claim":
		err = c.printCall(stdout, http.MethodPost, "/v1/claim", nil)
	case "faucet":
		err = c.printCall(stdout, http.MethodPost, "/v1/faucet", nil)
	case "approve":
		if len(rest) != 2 {
			err = fmt.Errorf("usage: stake-cli approve <asset> <amount>")
			break
		}
		asset := strings.ToUpper(strings.TrimSpace(rest[0]))
		err = withAmount(rest[1:], func(amount string) error {
			return c.printCall(stdout, http.MethodPost, "/v1/approve", map[string]string{"asset": asset, "amount": amount})
		})
	case "set-rate":
		err = withAmount(rest, func(rate string) error {
			return c.printCall(stdout, http.MethodPut, "/v1/admin/rate", map[string]string{"rate": rate})
		})
	case "pause":
		if len(rest) != 1 {
			err = fmt.Errorf("usage: stake-cli pause <true|false>")
			break
		}
		paused, parseErr := strconv.ParseBool(rest[0])
		if parseErr != nil {
			err = fmt.Errorf("invalid pause flag %q", rest[0])
			break
		}
		err = c.printCall(stdout, http.MethodPut, "/v1/admin/pause", map[string]bool{"paused": paused})
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *client) printGet(stdout io.Writer, path string) error {
	body, _, err := c.call(http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	return printJSON(stdout, body)
}

func (c *client) printCall(stdout io.Writer, method, path string, payload any) error {
	body, _, err := c.call(method, path, payload, true)
	if err != nil {
		return err
	}
	return printJSON(stdout, body)
}

func runEvents(c *client, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	after := fs.Int64("after", 0, "return events with a sequence greater than this")
	limit := fs.Int("limit", 0, "maximum events to return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("after", strconv.FormatInt(*after, 10))
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	return c.printGet(stdout, "/v1/events?"+query.Encode())
}

func runExport(c *client, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: stake-cli export <csv|jsonl|parquet> [--out FILE] [--after N] [--limit N]")
	}
	format := strings.ToLower(strings.TrimSpace(args[0]))
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "write the export to this file instead of stdout")
	after := fs.Int64("after", 0, "export events with a sequence greater than this")
	limit := fs.Int("limit", 0, "maximum events to export")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("format", format)
	if *after > 0 {
		query.Set("after", strconv.FormatInt(*after, 10))
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	body, header, err := c.call(http.MethodGet, "/v1/events/export?"+query.Encode(), nil, false)
	if err != nil {
		return err
	}
	if next := header.Get("X-Export-Next"); next != "" {
		fmt.Fprintf(stderr, "export truncated; continue with --after %s\n", next)
	}
	if *out == "" {
		_, err = stdout.Write(body)
		return err
	}
	if err := os.WriteFile(*out, body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(stderr, "wrote %d bytes to %s (sha256 %s)\n", len(body), *out, header.Get("X-Checksum-SHA256"))
	return nil
}

func withAddress(args []string, fn func(common.Address) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one address")
	}
	if !common.IsHexAddress(strings.TrimSpace(args[0])) {
		return fmt.Errorf("invalid address %q", args[0])
	}
	return fn(common.HexToAddress(strings.TrimSpace(args[0])))
}

func withAmount(args []string, fn func(string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one amount")
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	return fn(amount.String())
}

// parseAmount accepts base-10 integers with optional "_" separators.
func parseAmount(value string) (*big.Int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	amount, ok := new(big.Int).SetString(cleaned, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func printJSON(stdout io.Writer, body []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(body), "", "  "); err != nil {
		_, werr := stdout.Write(body)
		return werr
	}
	out.WriteByte('\n')
	_, err := stdout.Write(out.Bytes())
	return err
}
