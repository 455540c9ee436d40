package cli

import (
	"fmt"

	"github.com/iudanet/caseboard/internal/replica"
)

// runStatus показывает конфигурацию и список локальных реплик
func (c *Cli) runStatus() error {
	fmt.Println("=== Caseboard Status ===")
	fmt.Println()

	serverURL, err := c.settings.ServerURL()
	if err != nil {
		return fmt.Errorf("failed to read server url: %w", err)
	}
	if serverURL == "" {
		fmt.Println("Relay server: not configured")
		fmt.Println("Run 'caseboard set-server <url>' to enable sharing.")
	} else {
		fmt.Printf("Relay server: %s\n", serverURL)
	}

	displayName, err := c.settings.DisplayName()
	if err != nil {
		return fmt.Errorf("failed to read display name: %w", err)
	}
	if displayName != "" {
		fmt.Printf("Display name: %s\n", displayName)
	}

	docs, err := replica.List(c.dataDir)
	if err != nil {
		return fmt.Errorf("failed to list replicas: %w", err)
	}

	fmt.Println()
	if len(docs) == 0 {
		fmt.Println("No local replicas.")
		return nil
	}

	fmt.Printf("Local replicas (%d):\n", len(docs))
	for _, id := range docs {
		fmt.Printf("  %s\n", id)
	}
	return nil
}
