package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/ingest"
	"github.com/stemsi/exstem-engine/internal/service"
	"golang.org/x/term"
)

func newImportTestCmd(a *app) *cobra.Command {
	var (
		entryCode       string
		promptEntryCode bool
		clearEntryCode  bool
	)

	cmd := &cobra.Command{
		Use:   "import-test <file.yaml>",
		Short: "Validate and store a YAML test paper",
		Long: "Imports a test paper. Questions tagged with a section join that section;\n" +
			"a question left without a section is an error. A test that already has\n" +
			"attempts cannot be re-imported.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fh, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()

			pf, err := ingest.Decode(fh)
			if err != nil {
				return err
			}
			tp, err := pf.ToTestPaper()
			if err != nil {
				return fmt.Errorf("invalid test paper: %w", err)
			}

			if promptEntryCode {
				fmt.Fprint(cmd.OutOrStdout(), "Enter entry code: ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read entry code: %w", err)
				}
				entryCode = strings.TrimSpace(string(raw))
			}
			if entryCode != "" {
				hash, err := service.NewAuthService(a.cfg).HashEntryCode(entryCode)
				if err != nil {
					return fmt.Errorf("hash entry code: %w", err)
				}
				tp.EntryCodeHash = hash
			} else if !clearEntryCode {
				// keep whatever code an earlier import set
				stores, err := a.openStores(ctx)
				if err != nil {
					return err
				}
				if prev, err := stores.Tests.GetByID(ctx, tp.ID); err == nil {
					tp.EntryCodeHash = prev.EntryCodeHash
				}
			}

			svc, closeRedis, err := a.testService(ctx)
			if err != nil {
				return err
			}
			defer closeRedis()

			if err := svc.ImportTest(ctx, tp); err != nil {
				if errors.Is(err, service.ErrInvalidState) {
					return fmt.Errorf("test %s already has attempts and cannot change", tp.ID)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s (%d sections, %d questions, status %s)\n",
				tp.Title, tp.ID, len(tp.Sections), len(tp.Questions), tp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&entryCode, "entry-code", "", "Entry code candidates must present to start")
	cmd.Flags().BoolVar(&promptEntryCode, "prompt-entry-code", false, "Read the entry code from the terminal without echo")
	cmd.Flags().BoolVar(&clearEntryCode, "no-entry-code", false, "Remove any existing entry code")
	cmd.MarkFlagsMutuallyExclusive("entry-code", "prompt-entry-code", "no-entry-code")
	return cmd
}
