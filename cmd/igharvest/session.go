package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igharvest/internal/store"
	"igharvest/pkg/auth"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved Instagram sessions",
	Long: `Manage the saved sessions the API restores on start.

Sessions are kept in the credential store (system keyring or encrypted
file), in the database and as <username>.json files under session.import_dir.`,
}

var sessionImportCmd = &cobra.Command{
	Use:   "import [username]",
	Short: "Import a session from browser cookies",
	Long: `Import an existing browser session by pasting its cookies.

The sessionid and csrftoken values are read without echo. The session is
saved to every session store so that 'igharvest serve' can restore it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionImport,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a saved session from every store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionImportCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func runSessionImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	auth.WriteCookieGuide(out)

	account := &auth.Account{LastModified: time.Now()}
	if len(args) == 1 {
		account.Username = strings.TrimPrefix(strings.TrimSpace(args[0]), "@")
	} else {
		fmt.Fprint(out, "Username: ")
		if account.Username, err = readLine(in); err != nil {
			return err
		}
	}
	fmt.Fprint(out, "sessionid: ")
	if account.SessionID, err = readSecret(in, out); err != nil {
		return err
	}
	fmt.Fprint(out, "csrftoken: ")
	if account.CSRFToken, err = readSecret(in, out); err != nil {
		return err
	}
	if err := account.Validate(); err != nil {
		return err
	}
	blob, err := account.Blob()
	if err != nil {
		return err
	}

	if creds, err := auth.NewManager(); err != nil {
		log.WithError(err).Warn("Credential manager unavailable")
	} else if err := creds.Store(account); err != nil {
		log.WithError(err).Warn("Failed to save session to credential store")
	}

	if err := writeImportFile(cfg.Session.ImportDir, account.Username, blob); err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Warn("Database unavailable, session not saved there")
	} else {
		defer db.Close()
		if err := db.SaveSession(ctx, account.Username, blob); err != nil {
			log.WithError(err).Warn("Failed to save session to database")
		}
	}

	fmt.Fprintf(out, "\nSession for %s imported\n", account.Username)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if creds, err := auth.NewManager(); err != nil {
		log.WithError(err).Warn("Credential manager unavailable")
	} else {
		accounts, err := creds.List()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Credential store:")
		if len(accounts) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for _, a := range accounts {
			s := auth.SanitizeAccount(a)
			fmt.Fprintf(out, "  %-24s sessionid=%s  updated %s\n", s.Username, s.SessionID, s.LastModified.Format(time.RFC3339))
		}
	}

	ctx := cmd.Context()
	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.ListSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Database:")
	if len(records) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, r := range records {
		fmt.Fprintf(out, "  %-24s updated %s\n", r.Username, r.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(nil)
	if err != nil {
		return err
	}
	username := strings.TrimPrefix(args[0], "@")

	var errs []error
	if creds, err := auth.NewManager(); err == nil {
		if err := creds.Delete(username); err != nil {
			log.WithError(err).Debug("No credential store entry")
		}
	}

	if dir := cfg.Session.ImportDir; dir != "" {
		if err := os.Remove(filepath.Join(dir, username+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	ctx := cmd.Context()
	if db, err := store.Open(ctx, cfg.Database, log); err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, db.DeleteSession(ctx, username))
		db.Close()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session for %s deleted\n", username)
	return nil
}

func writeImportFile(dir, username string, blob []byte) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, username+".json"), blob, 0600)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo from a terminal, otherwise one line of r
func readSecret(r *bufio.Reader, out io.Writer) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}
	return readLine(r)
}
