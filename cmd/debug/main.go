package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/rpc/xmlrpc"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var addr, path, command, address, paramset, datapoint, value, id string
	var timeout time.Duration
	flag.StringVar(&addr, "addr", "127.0.0.1:2010", "host:port of an XML-RPC interface")
	flag.StringVar(&path, "path", "/", "Request path on the interface")
	flag.StringVar(&command, "cmd", "", "Command to run: list-devices, set-value, get-value, describe, ping, list-methods")
	flag.StringVar(&address, "address", "", "Device or channel address")
	flag.StringVar(&paramset, "paramset", model.ParamsetValues, "Paramset name for describe")
	flag.StringVar(&datapoint, "dp", "", "Datapoint name for get-value and set-value")
	flag.StringVar(&value, "value", "", "JSON literal for set-value, e.g. true or 21.5")
	flag.StringVar(&id, "id", "hmsim-debug", "Client id sent with ping")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "Call timeout")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of hmsim-debug:")
		fmt.Println("  -addr string\thost:port of an XML-RPC interface (default '127.0.0.1:2010')")
		fmt.Println("  -path string\tRequest path on the interface (default '/')")
		fmt.Println("  -cmd string\tCommand to run: list-devices, set-value, get-value, describe, ping, list-methods")
		fmt.Println("  -address string\tDevice or channel address")
		fmt.Println("  -paramset string\tParamset name for describe (default 'VALUES')")
		fmt.Println("  -dp string\tDatapoint name for get-value and set-value")
		fmt.Println("  -value string\tJSON literal for set-value, e.g. true or 21.5")
		fmt.Println("  -id string\tClient id sent with ping")
		fmt.Println("  -timeout duration\tCall timeout (default 5s)")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		fmt.Printf("Error: invalid -addr: %v\n", err)
		os.Exit(1)
	}

	var method string
	var params []any
	requireAddress := func() {
		if address == "" {
			fmt.Println("Error: address is required")
			os.Exit(1)
		}
	}
	requireDatapoint := func() {
		requireAddress()
		if datapoint == "" {
			fmt.Println("Error: datapoint is required")
			os.Exit(1)
		}
	}

	switch command {
	case "list-devices":
		method, params = "listDevices", []any{}
	case "list-methods":
		method, params = "system.listMethods", []any{}
	case "ping":
		method, params = "ping", []any{id}
	case "describe":
		requireAddress()
		method, params = "getParamsetDescription", []any{address, paramset}
	case "get-value":
		requireDatapoint()
		method, params = "getValue", []any{address, datapoint}
	case "set-value":
		requireDatapoint()
		v, err := model.DecodeJSON([]byte(value))
		if err != nil {
			fmt.Printf("Error: invalid value %q: %v\n", value, err)
			os.Exit(1)
		}
		method, params = "setValue", []any{address, datapoint, v}
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	client := xmlrpc.NewClient(host, port, path, timeout)
	defer client.Close()

	result, err := client.Call(context.Background(), method, params)
	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", result)
	} else {
		fmt.Println(string(out))
	}
	fmt.Printf("Command %s completed successfully\n", command)
}
