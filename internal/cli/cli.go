// Package cli реализует команды консольного клиента caseboard.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/iudanet/caseboard/internal/blob"
	"github.com/iudanet/caseboard/internal/reconcile"
	"github.com/iudanet/caseboard/internal/session"
	"github.com/iudanet/caseboard/internal/settings"
)

// Cli связывает команды с сервисами клиента
type Cli struct {
	sessions   *session.Manager
	reconciler *reconcile.Service
	settings   *settings.Store
	blobs      *blob.Store
	dataDir    string
	baseURL    string
	logger     *slog.Logger
}

// New creates a new CLI instance
func New(
	sessions *session.Manager,
	reconciler *reconcile.Service,
	st *settings.Store,
	blobs *blob.Store,
	dataDir string,
	baseURL string,
	logger *slog.Logger,
) *Cli {
	return &Cli{
		sessions:   sessions,
		reconciler: reconciler,
		settings:   st,
		blobs:      blobs,
		dataDir:    dataDir,
		baseURL:    baseURL,
		logger:     logger,
	}
}

const usageText = `caseboard - local-first investigation whiteboard sync client

Usage:
  caseboard [flags] <command> [arguments]

Commands:
  set-server <url>        Configure relay server URL
  set-name <name>         Configure display name
  open <document-id>      Open a document locally (interactive session)
  share <document-id>     Open a document and share it under a fresh key
  join <share-url>        Join a shared document from an invitation link
  status                  Show configuration and stored replicas
  report <subcommand>     Manage reports (create|list|show|rename|delete|snapshot|snapshot-save)
  purge <document-id>     Delete the local replica of a document

Session commands (inside open/share/join):
  share                   Start replication under a brand-new key
  share-pass              Start replication under a passphrase-derived key
  unshare                 Stop replication, keep working locally
  url                     Print the invitation link for the current session
  status                  Show connection and peer state
  quit                    Close the session and exit

Flags:
  -data <dir>             Data directory (default ~/.caseboard)
  -base-url <url>         Base URL for generated share links
  -version                Show version information
`

// PrintUsage выводит справку по командам
func PrintUsage() {
	fmt.Print(usageText)
}
