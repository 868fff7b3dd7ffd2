package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/cmd/internal/secret"
	"stakepool/gateway/middleware"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }

func (s *stringList) Set(value string) error {
	*s = append(*s, strings.TrimSpace(value))
	return nil
}

// runToken mints an HS256 bearer token for development deployments that share
// the daemon's HMAC secret.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "hex address the token authenticates")
	secretEnv := fs.String("secret-env", "STAKINGD_HMAC_SECRET", "environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "stakepool", "issuer claim")
	audience := fs.String("audience", "", "audience claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime; 0 disables expiry")
	var scopes stringList
	fs.Var(&scopes, "scope", "scope to grant (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !common.IsHexAddress(strings.TrimSpace(*subject)) {
		fmt.Fprintln(stderr, "Error: --subject must be a hex address")
		return 1
	}
	key, err := secret.NewSource(*secretEnv, "HMAC secret").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := middleware.IssueToken(key, *issuer, *audience, common.HexToAddress(*subject), scopes, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
