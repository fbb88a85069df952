// Package console drives the simulator from an interactive prompt.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hmsim/internal/model"
	"github.com/thatsimonsguy/hmsim/internal/simulator"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

const helpText = `Commands:
  devices <iface>                    - List catalog devices and channels
  clients <iface>                    - List registered clients
  describe <iface> <address> [set]   - Show a paramset description (default VALUES)
  get <iface> <address> <dp>         - Read a datapoint
  set <iface> <address> <dp> <json>  - Write a datapoint (emits events)
  ping <iface> <id>                  - Send a ping as a client would
  help                               - Show this help
  quit                               - Stop the simulator

Interfaces: rfd, hmip`

type Console struct {
	sim *simulator.Simulator
}

func New(sim *simulator.Simulator) *Console {
	return &Console{sim: sim}
}

// Run reads commands until quit, EOF or ctx is done. cancel stops the
// rest of the process when the user leaves the prompt.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hmsim> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintln(rl.Stdout(), helpText)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			break
		}

		out, err := c.Execute(line)
		if errors.Is(err, ErrQuit) {
			break
		}
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(rl.Stdout(), out)
		}
	}

	if ctx.Err() == nil {
		log.Info().Msg("Console closed, shutting down")
		cancel()
	}
	return nil
}

// Execute runs one command line and returns what it prints.
func (c *Console) Execute(line string) (string, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		return helpText, nil
	case "quit", "exit", "q":
		return "", ErrQuit
	case "devices", "d":
		return c.cmdDevices(args)
	case "clients", "c":
		return c.cmdClients(args)
	case "describe":
		return c.cmdDescribe(args)
	case "get", "g":
		return c.cmdGet(args)
	case "set", "s":
		return c.cmdSet(args)
	case "ping":
		return c.cmdPing(args)
	default:
		return "", fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func interfaceArg(args []string, want int, usage string) (model.Interface, error) {
	if len(args) < want {
		return "", fmt.Errorf("usage: %s", usage)
	}
	iface, ok := model.ParseInterface(args[0])
	if !ok {
		return "", fmt.Errorf("unknown interface %q", args[0])
	}
	return iface, nil
}

func (c *Console) cmdDevices(args []string) (string, error) {
	iface, err := interfaceArg(args, 1, "devices <iface>")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTYPE\tPARAMSETS")
	for _, dev := range c.sim.ListDevices(iface) {
		address := dev.Address
		if dev.IsChannel() {
			address = "  " + address
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", address, dev.Type, strings.Join(dev.Paramsets, ","))
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Console) cmdClients(args []string) (string, error) {
	iface, err := interfaceArg(args, 1, "clients <iface>")
	if err != nil {
		return "", err
	}

	clients := c.sim.Clients(iface)
	if len(clients) == 0 {
		return "No clients registered", nil
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tID\tPROTOCOL\tURL")
	for _, reg := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", reg.Key, reg.ID, reg.Protocol, reg.URL)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Console) cmdDescribe(args []string) (string, error) {
	iface, err := interfaceArg(args, 2, "describe <iface> <address> [paramset]")
	if err != nil {
		return "", err
	}
	paramset := model.ParamsetValues
	if len(args) > 2 {
		paramset = args[2]
	}
	desc, ok := c.sim.ParamsetDescription(iface, args[1], paramset)
	if !ok {
		return "", fmt.Errorf("%s %s: %w", args[1], paramset, simulator.ErrUnknownParamset)
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATAPOINT\tTYPE\tDEFAULT\tEVENT")
	for _, name := range desc.Names() {
		p := desc[name]
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", name, p.Type, formatValue(p.InitialValue()), p.HasEvent())
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Console) cmdGet(args []string) (string, error) {
	iface, err := interfaceArg(args, 3, "get <iface> <address> <dp>")
	if err != nil {
		return "", err
	}
	v, err := c.sim.GetValue(iface, args[1], args[2])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s = %s", args[1], args[2], formatValue(v)), nil
}

func (c *Console) cmdSet(args []string) (string, error) {
	iface, err := interfaceArg(args, 4, "set <iface> <address> <dp> <json>")
	if err != nil {
		return "", err
	}
	// the literal may contain spaces, e.g. a quoted string
	raw := strings.Join(args[3:], " ")
	value, err := model.DecodeJSON([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("invalid value %s: %w", raw, err)
	}
	if err := c.sim.SetValue(iface, args[1], args[2], value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s = %s", args[1], args[2], formatValue(value)), nil
}

func (c *Console) cmdPing(args []string) (string, error) {
	iface, err := interfaceArg(args, 2, "ping <iface> <id>")
	if err != nil {
		return "", err
	}
	c.sim.Ping(iface, args[1])
	return "Ping sent", nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}
