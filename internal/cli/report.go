package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iudanet/caseboard/internal/models"
)

// runReport выполняет подкоманды управления отчетами.
// Команды работают с локальным кэшем напрямую; если документ при этом
// нигде не открыт, изменения попадут в реплицируемый документ при
// следующем открытии (seed при merge первого открытия).
func (c *Cli) runReport(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: caseboard report <create|list|show|rename|delete> ...")
	}

	switch args[0] {
	case "create":
		return c.runReportCreate(ctx, args[1:])
	case "list":
		return c.runReportList(ctx, args[1:])
	case "show":
		return c.runReportShow(ctx, args[1:])
	case "rename":
		return c.runReportRename(ctx, args[1:])
	case "delete":
		return c.runReportDelete(ctx, args[1:])
	case "snapshot":
		return c.runReportSnapshot(ctx, args[1:])
	case "snapshot-save":
		return c.runReportSnapshotSave(args[1:])
	default:
		return fmt.Errorf("unknown report subcommand: %s", args[0])
	}
}

func (c *Cli) runReportCreate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: caseboard report create <document-id> <title>")
	}
	boardID := args[0]
	title := strings.Join(args[1:], " ")

	report, err := c.reconciler.CreateReport(ctx, boardID, title)
	if err != nil {
		return err
	}
	fmt.Printf("Created report %s\n", report.ID)
	return nil
}

func (c *Cli) runReportList(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard report list <document-id>")
	}

	reports, err := c.reconciler.ListReports(ctx, args[0])
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports.")
		return nil
	}

	for _, r := range reports {
		fmt.Printf("%s  %-30s  sections=%d  updated=%s\n",
			r.ID, r.Title, len(r.Sections), r.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func (c *Cli) runReportShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard report show <report-id>")
	}

	report, err := c.reconciler.GetReport(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("=== %s ===\n", report.Title)
	fmt.Printf("ID:       %s\n", report.ID)
	fmt.Printf("Document: %s\n", report.BoardID)
	fmt.Printf("Created:  %s\n", report.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", report.UpdatedAt.Format("2006-01-02 15:04:05"))

	for _, sec := range report.Sections {
		fmt.Printf("\n[%d] %s\n", sec.Order, sec.Title)
		if sec.Content != "" {
			fmt.Println(sec.Content)
		}
		if len(sec.ReferencedIDs) > 0 {
			fmt.Printf("References: %s\n", strings.Join(sec.ReferencedIDs, ", "))
		}
		if sec.Snapshot != nil {
			fmt.Printf("Snapshot: %s (captured %s)\n",
				sec.Snapshot.BlobHash, sec.Snapshot.CapturedAt.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

func (c *Cli) runReportRename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: caseboard report rename <report-id> <title>")
	}
	if err := c.reconciler.RenameReport(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Println("Report renamed.")
	return nil
}

// runReportSnapshot сохраняет файл снимка в blob store и привязывает
// его content hash к секции отчета
func (c *Cli) runReportSnapshot(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: caseboard report snapshot <report-id> <section-id> <file>")
	}
	reportID, sectionID, path := args[0], args[1], args[2]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}
	hash, err := c.blobs.Put(data)
	if err != nil {
		return err
	}

	report, err := c.reconciler.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	idx := report.SectionByID(sectionID)
	if idx < 0 {
		return fmt.Errorf("section %s not found in report %s", sectionID, reportID)
	}

	section := report.Sections[idx]
	section.Snapshot = &models.Snapshot{
		CapturedAt: time.Now().UTC(),
		BlobHash:   hash,
	}
	if err := c.reconciler.UpdateSection(ctx, reportID, section); err != nil {
		return err
	}
	fmt.Printf("Snapshot %s attached to section %q\n", hash, section.Title)
	return nil
}

// runReportSnapshotSave выгружает снимок из blob store в файл
func (c *Cli) runReportSnapshotSave(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: caseboard report snapshot-save <blob-hash> <file>")
	}

	data, err := c.blobs.Get(args[0])
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	fmt.Printf("Saved %d bytes to %s\n", len(data), args[1])
	return nil
}

func (c *Cli) runReportDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard report delete <report-id>")
	}
	if err := c.reconciler.DeleteReport(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Report deleted.")
	return nil
}
