package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/iudanet/caseboard/internal/validation"
)

// Run выполняет команду верхнего уровня
func (c *Cli) Run(ctx context.Context, command string, args []string) {
	var err error

	switch command {
	case "set-server":
		err = c.runSetServer(args)
	case "set-name":
		err = c.runSetName(args)
	case "open":
		err = c.runOpen(ctx, args)
	case "share":
		err = c.runShare(ctx, args)
	case "join":
		err = c.runJoin(ctx, args)
	case "status":
		err = c.runStatus()
	case "report":
		err = c.runReport(ctx, args)
	case "purge":
		err = c.runPurge(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		PrintUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *Cli) runSetServer(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard set-server <url>")
	}
	if err := c.settings.SetServerURL(args[0]); err != nil {
		return err
	}
	fmt.Printf("Relay server set to %s\n", args[0])
	return nil
}

func (c *Cli) runSetName(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard set-name <name>")
	}
	if err := validation.ValidateDisplayName(args[0]); err != nil {
		return err
	}
	if err := c.settings.SetDisplayName(args[0]); err != nil {
		return err
	}
	fmt.Printf("Display name set to %q\n", args[0])
	return nil
}
