package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pysugar/app-portal/internal/account"
	"github.com/pysugar/app-portal/internal/db"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect portal accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts with their API keys masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			repo, database, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close(database)

			accts, err := repo.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}
			renderAccounts(cmd.OutOrStdout(), accts)
			return nil
		},
	})
	return cmd
}

func renderAccounts(w io.Writer, accts []account.Account) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Active", "API Keys", "Last Login"})

	for _, a := range accts {
		masked := a.Masked()
		keys := make([]string, 0, len(masked.APIKeys))
		for _, k := range masked.APIKeys {
			keys = append(keys, fmt.Sprintf("%s (%s) %s", k.Name, k.Service, k.Key))
		}
		lastLogin := "-"
		if a.LastLogin != nil {
			lastLogin = a.LastLogin.Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{a.ID, a.Email, a.Name, a.Role, a.IsActive, strings.Join(keys, "\n"), lastLogin})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(accts)})
	t.Render()
}
