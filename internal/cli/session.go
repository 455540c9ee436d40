package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/iudanet/caseboard/internal/crypto"
	"github.com/iudanet/caseboard/internal/session"
)

// runOpen открывает документ локально и входит в интерактивную сессию
func (c *Cli) runOpen(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard open <document-id>")
	}
	documentID := args[0]

	if err := c.sessions.OpenLocal(ctx, documentID); err != nil {
		return err
	}
	fmt.Printf("Opened %q locally. Type 'share' to start replication, 'quit' to exit.\n", documentID)

	return c.sessionLoop(ctx)
}

// runShare открывает документ и сразу расшаривает его под новым ключом
func (c *Cli) runShare(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard share <document-id>")
	}
	documentID := args[0]

	if err := c.sessions.OpenLocal(ctx, documentID); err != nil {
		return err
	}
	if err := c.shareCurrent(ctx); err != nil {
		_ = c.sessions.Close()
		return err
	}

	return c.sessionLoop(ctx)
}

// runJoin присоединяется к shared-документу по ссылке приглашения
func (c *Cli) runJoin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: caseboard join <share-url>")
	}

	link, err := session.ParseShareURL(args[0])
	if err != nil {
		return err
	}
	if link.Key == "" {
		fmt.Println("Warning: invitation carries no encryption key, joining in plaintext mode.")
	}

	// Сервер из приглашения запоминаем, только если свой еще не настроен
	configured, err := c.settings.ServerURL()
	if err != nil {
		return err
	}
	if configured == "" && link.ServerURL != "" {
		if err := c.settings.SetServerURL(link.ServerURL); err != nil {
			return err
		}
		fmt.Printf("Relay server set to %s (from invitation)\n", link.ServerURL)
	}

	if err := c.sessions.OpenShared(ctx, link.DocumentID, link.Key); err != nil {
		return err
	}
	fmt.Printf("Joined %q. Waiting for peers...\n", link.DocumentID)

	return c.sessionLoop(ctx)
}

// sessionLoop - интерактивный цикл открытой сессии. Изменения состояния
// печатаются по мере поступления, команды читаются построчно со stdin.
func (c *Cli) sessionLoop(ctx context.Context) error {
	defer func() {
		if err := c.sessions.Close(); err != nil {
			c.logger.Error("failed to close session", "error", err)
		}
	}()

	unsubscribe := c.sessions.Subscribe(func(s session.State) {
		switch {
		case s.Err != nil:
			fmt.Printf("! %v\n", s.Err)
		case s.Mode == session.ModeShared:
			fmt.Printf("* connected=%v syncing=%v peers=%d\n",
				s.Connected, s.Syncing, s.PeerCount)
		}
	})
	defer unsubscribe()

	// Stdin читается в отдельной горутине, чтобы Ctrl-C завершал
	// сессию, даже когда цикл ждет следующую команду
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Print("> ")
	for {
		var raw string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case raw, ok = <-lines:
			if !ok {
				return nil
			}
		}

		line := strings.TrimSpace(raw)
		switch line {
		case "":
		case "quit", "exit":
			return nil
		case "share":
			if err := c.shareCurrent(ctx); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case "share-pass":
			if err := c.sharePassphrase(ctx); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		case "unshare":
			c.sessions.Unshare()
			fmt.Println("Replication stopped. Document stays available locally.")
		case "url":
			url, err := c.sessions.ShareURL(c.baseURL)
			if errors.Is(err, session.ErrNotOpen) {
				fmt.Println("Document is not shared. Type 'share' first.")
			} else if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println(url)
			}
		case "status":
			s := c.sessions.State()
			fmt.Printf("mode=%s document=%s connected=%v syncing=%v peers=%d\n",
				s.Mode, s.DocumentID, s.Connected, s.Syncing, s.PeerCount)
		default:
			fmt.Printf("Unknown session command: %s\n", line)
		}
		fmt.Print("> ")
	}
}

// shareCurrent расшаривает текущий документ под новым случайным ключом
func (c *Cli) shareCurrent(ctx context.Context) error {
	if _, err := c.sessions.Share(ctx); err != nil {
		return err
	}
	url, err := c.sessions.ShareURL(c.baseURL)
	if err != nil {
		return err
	}
	fmt.Println("Share this link (the key after # never leaves the browser/client):")
	fmt.Println(url)
	return nil
}

// sharePassphrase расшаривает документ под ключом, выведенным из
// парольной фразы: обе стороны, знающие фразу, попадают в одну комнату.
func (c *Cli) sharePassphrase(ctx context.Context) error {
	s := c.sessions.State()
	if !s.Active() {
		return session.ErrNotOpen
	}
	documentID := s.DocumentID

	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}

	keyString, err := crypto.DeriveKeyFromPassphrase(passphrase, documentID)
	if err != nil {
		return err
	}

	return c.sessions.OpenShared(ctx, documentID, keyString)
}

// readPassphrase читает парольную фразу без эха терминала
func readPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(data), nil
}
