package cli

import (
	"fmt"

	"github.com/iudanet/caseboard/internal/replica"
	"github.com/iudanet/caseboard/internal/validation"
)

// runPurge удаляет локальную реплику документа. Кэш отчетов
// не затрагивается: при следующем shared-открытии состояние
// восстановится от пиров или засеется из кэша.
func (c *Cli) runPurge(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard purge <document-id>")
	}
	documentID := args[0]

	if err := validation.ValidateDocumentID(documentID); err != nil {
		return err
	}
	if !replica.Exists(c.dataDir, documentID) {
		return fmt.Errorf("no local replica for %q", documentID)
	}
	if err := replica.Purge(c.dataDir, documentID); err != nil {
		return fmt.Errorf("failed to purge replica: %w", err)
	}

	fmt.Printf("Purged local replica of %q\n", documentID)
	return nil
}
