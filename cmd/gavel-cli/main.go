package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("GAVEL_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8080"
}

func main() {
	args := os.Args[1:]
	args = applyGlobalFlags(args)

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "get":
		if len(args) < 3 {
			fmt.Println("Error: usage: get <workorder|escrow|auction|dispute> <id>")
			return
		}
		runGet(args[1], args[2])
	case "list":
		if len(args) < 2 {
			fmt.Println("Error: usage: list <workorders|escrows|auctions|disputes> [party]")
			return
		}
		runList(args[1], args[2:])
	case "balance":
		if len(args) < 3 {
			fmt.Println("Error: usage: balance <address> <token>")
			return
		}
		call("gavel_balance", map[string]string{"address": args[1], "token": args[2]})
	case "reputation":
		if len(args) < 2 {
			fmt.Println("Error: usage: reputation <address>")
			return
		}
		call("reputation_get", map[string]string{"subject": args[1]})
	case "events":
		after := "0"
		if len(args) > 1 {
			after = args[1]
		}
		var cursor uint64
		if _, err := fmt.Sscanf(after, "%d", &cursor); err != nil {
			fmt.Println("Error: invalid cursor.")
			return
		}
		call("gavel_events", map[string]uint64{"after": cursor})
	case "touch":
		if len(args) < 3 {
			fmt.Println("Error: usage: touch <escrow|auction> <id>")
			return
		}
		switch args[1] {
		case "escrow":
			call("escrow_touch", map[string]string{"id": args[2]})
		case "auction":
			call("auction_touch", map[string]string{"id": args[2]})
		default:
			fmt.Printf("Error: unknown touch target %q.\n", args[1])
		}
	case "raw":
		if len(args) < 2 {
			fmt.Println("Error: usage: raw <method> [json-params]")
			return
		}
		runRaw(args[1], args[2:])
	default:
		fmt.Printf("Error: unknown command %q.\n", command)
		printUsage()
	}
}

func applyGlobalFlags(args []string) []string {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--rpc" && i+1 < len(args) {
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func runGet(kind, id string) {
	methods := map[string]string{
		"workorder": "workorder_get",
		"escrow":    "escrow_get",
		"auction":   "auction_get",
		"dispute":   "dispute_get",
	}
	method, ok := methods[kind]
	if !ok {
		fmt.Printf("Error: unknown record kind %q.\n", kind)
		return
	}
	call(method, map[string]string{"id": id})
}

func runList(kind string, rest []string) {
	methods := map[string]string{
		"workorders": "workorder_list",
		"escrows":    "escrow_list",
		"auctions":   "auction_list",
		"disputes":   "dispute_list",
	}
	method, ok := methods[kind]
	if !ok {
		fmt.Printf("Error: unknown record kind %q.\n", kind)
		return
	}
	var params interface{}
	if len(rest) > 0 {
		key := "party"
		if kind == "auctions" {
			key = "owner"
		}
		params = map[string]string{key: rest[0]}
	}
	call(method, params)
}

func runRaw(method string, rest []string) {
	var params interface{}
	if len(rest) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(rest[0]), &decoded); err != nil {
			fmt.Printf("Error: invalid params JSON: %v\n", err)
			return
		}
		params = decoded
	}
	call(method, params)
}

func call(method string, params interface{}) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("Error: encode request: %v\n", err)
		os.Exit(1)
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(raw))
	if err != nil {
		fmt.Printf("Error: build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: RPC unreachable at %s: %v\n", rpcEndpoint, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error: read response: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return
	}
	fmt.Println(pretty.String())
}

func printUsage() {
	fmt.Println("Usage: gavel-cli [--rpc <url>] <command>")
	fmt.Println("Commands:")
	fmt.Println("  get <workorder|escrow|auction|dispute> <id>")
	fmt.Println("  list <workorders|escrows|auctions|disputes> [party]")
	fmt.Println("  balance <address> <token>")
	fmt.Println("  reputation <address>")
	fmt.Println("  events [after]")
	fmt.Println("  touch <escrow|auction> <id>")
	fmt.Println("  raw <method> [json-params]")
	fmt.Println()
	fmt.Println("Set GAVEL_RPC_TOKEN to authorize mutating raw calls; RPC_URL or")
	fmt.Println("--rpc override the default endpoint http://127.0.0.1:8080.")
}
