package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"stakepool/cmd/internal/secret"
)

const (
	defaultEndpoint = "http://localhost:7081"
	endpointEnv     = "STAKE_API_URL"
	tokenEnv        = "STAKE_TOKEN"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := defaultEndpoint
	if value := strings.TrimSpace(os.Getenv(endpointEnv)); value != "" {
		endpoint = value
	}
	args, endpoint, err := applyGlobalFlags(args, endpoint)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if args[0] == "token" {
		return runToken(args[1:], stdout, stderr)
	}
	c := newClient(endpoint, secret.NewSource(tokenEnv, "bearer token"))
	return dispatch(c, args, stdout, stderr)
}

func applyGlobalFlags(args []string, endpoint string) ([]string, string, error) {
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--endpoint" || arg == "-endpoint":
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("--endpoint requires a value")
			}
			endpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--endpoint="):
			endpoint = strings.TrimPrefix(arg, "--endpoint=")
		default:
			rest = append(rest, arg)
		}
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, "", fmt.Errorf("endpoint cannot be empty")
	}
	return rest, endpoint, nil
}

func usage() string {
	return strings.TrimSpace(`
Usage: stake-cli [--endpoint URL] <command> [args]

Queries:
  pool                         Pool totals, rate, reserve and APY
  position <address>           Stake, earned rewards and unlock time
  apy                          Estimated annual yield
  balances <address>           Ledger balances for the stake and reward assets
  events [--after N] [--limit N]
  export <csv|jsonl|parquet> [--out FILE] [--after N] [--limit N]

Transactions (bearer token from STAKE_TOKEN or prompt):
  approve <asset> <amount>     Allow the pool to pull <amount> of <asset>
  stake <amount>
  withdraw <amount>
  claim
  faucet                       Dev deployments only: mint test stake tokens
  fund <amount>
  set-rate <rate>              Controller only
  pause <true|false>           Controller only

Credentials:
  token --subject ADDRESS [--secret-env VAR] [--issuer ISS] [--ttl 24h] [--scope S]...
`)
}
