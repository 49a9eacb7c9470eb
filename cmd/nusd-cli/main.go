package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nusd/cmd/internal/passphrase"
	"nusd/crypto"
)

const (
	defaultNodeURL = "http://localhost:8080"
	nodeURLEnv     = "NUSD_RPC_URL"
	rpcTokenEnv    = "NUSD_RPC_TOKEN"
	keyPassEnv     = "NUSD_KEYSTORE_PASS"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "generate-key":
		err = handleGenerateKey(args)
	case "show-address":
		err = handleShowAddress(args)
	case "deposit":
		err = handleSimpleTx(args, "vault_deposit", "user", "asset", "amount")
	case "mint":
		err = handleSimpleTx(args, "vault_mint", "user", "amount")
	case "burn":
		err = handleSimpleTx(args, "vault_burn", "user", "amount")
	case "redeem":
		err = handleSimpleTx(args, "vault_redeem", "user", "asset", "amount")
	case "deposit-and-mint":
		err = handleSimpleTx(args, "vault_depositAndMint", "user", "asset", "collateralAmount", "mintAmount")
	case "burn-and-redeem":
		err = handleSimpleTx(args, "vault_burnAndRedeem", "user", "asset", "burnAmount", "redeemAmount")
	case "liquidate":
		err = handleSimpleTx(args, "vault_liquidate", "liquidator", "borrower", "asset", "debtToCover")
	case "position":
		err = handleQuery(args, "vault_getPosition", "user")
	case "health":
		err = handleQuery(args, "vault_getHealthFactor", "user")
	case "account":
		err = handleQuery(args, "vault_getAccountInformation", "user")
	case "balance":
		err = handleBalance(args)
	case "collateral":
		err = handleBareQuery("vault_listCollateral")
	case "totals":
		err = handleBareQuery("vault_getTotals")
	case "oracle-set-price":
		err = handleSimpleTx(args, "oracle_setPrice", "asset", "price")
	case "oracle-quote":
		err = handleQuery(args, "oracle_getQuote", "asset")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: nusd-cli <command> [arguments]

Key management:
  generate-key <path>                                   create an encrypted keystore
  show-address <path>                                   print the bech32 address of a keystore

Vault operations (require ` + rpcTokenEnv + `):
  deposit <user> <asset> <amount>
  mint <user> <amount>
  burn <user> <amount>
  redeem <user> <asset> <amount>
  deposit-and-mint <user> <asset> <collateral> <mint>
  burn-and-redeem <user> <asset> <burn> <redeem>
  liquidate <liquidator> <borrower> <asset> <debtToCover>

Queries:
  position <user>
  health <user>
  account <user>
  balance <account> [asset]
  collateral
  totals
  oracle-quote <asset>

Oracle overrides (require ` + rpcTokenEnv + `):
  oracle-set-price <asset> <price>

The node endpoint defaults to ` + defaultNodeURL + ` and can be overridden
with ` + nodeURLEnv + `.`)
}

func handleGenerateKey(args []string) error {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: generate-key <path>")
	}
	path := fs.Arg(0)

	pass, err := passphrase.NewSource(keyPassEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GenerateToKeystore(path, pass)
	if err != nil {
		return fmt.Errorf("generate keystore: %w", err)
	}
	fmt.Printf("Keystore written to %s\nAddress: %s\n", path, key.PubKey().Address())
	return nil
}

func handleShowAddress(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show-address <path>")
	}
	pass, err := passphrase.NewSource(keyPassEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(args[0], pass)
	if err != nil {
		return fmt.Errorf("load keystore: %w", err)
	}
	fmt.Println(key.PubKey().Address())
	return nil
}

// handleSimpleTx maps positional arguments onto the named JSON-RPC fields and
// submits an authenticated call.
func handleSimpleTx(args []string, method string, fields ...string) error {
	if len(args) != len(fields) {
		return fmt.Errorf("usage: %s", usageFor(method, fields))
	}
	params := make(map[string]string, len(fields))
	for i, field := range fields {
		params[field] = args[i]
	}
	result, err := call(method, params, true)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func handleQuery(args []string, method string, fields ...string) error {
	if len(args) != len(fields) {
		return fmt.Errorf("usage: %s", usageFor(method, fields))
	}
	params := make(map[string]string, len(fields))
	for i, field := range fields {
		params[field] = args[i]
	}
	result, err := call(method, params, false)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func handleBalance(args []string) error {
	if len(args) != 1 && len(args) != 2 {
		return fmt.Errorf("usage: balance <account> [asset]")
	}
	params := map[string]string{"account": args[0]}
	if len(args) == 2 {
		params["asset"] = args[1]
	}
	result, err := call("vault_getBalance", params, false)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func handleBareQuery(method string) error {
	result, err := call(method, nil, false)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func usageFor(method string, fields []string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, method)
	for _, field := range fields {
		parts = append(parts, "<"+field+">")
	}
	return strings.Join(parts, " ")
}

func printJSON(raw json.RawMessage) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func nodeURL() string {
	if url := strings.TrimSpace(os.Getenv(nodeURLEnv)); url != "" {
		return url
	}
	return defaultNodeURL
}

type rpcErrorPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func call(method string, params interface{}, authed bool) (json.RawMessage, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = []interface{}{params}
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, nodeURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
		if token == "" {
			return nil, fmt.Errorf("%s must be set for %s", rpcTokenEnv, method)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call node: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var reply struct {
		Result json.RawMessage  `json:"result"`
		Error  *rpcErrorPayload `json:"error"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if reply.Error != nil {
		if len(reply.Error.Data) > 0 {
			return nil, fmt.Errorf("%s (code %d, data %s)", reply.Error.Message, reply.Error.Code, reply.Error.Data)
		}
		return nil, fmt.Errorf("%s (code %d)", reply.Error.Message, reply.Error.Code)
	}
	return reply.Result, nil
}
