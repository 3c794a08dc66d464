package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/orchestra-mcp/realtime/src/identity"
	"github.com/spf13/cobra"
)

var displayName string

var errNoBadgerPath = errors.New("BADGER_PATH is required; an in-memory store does not outlive the command")

var putAccountCmd = &cobra.Command{
	Use:   "put-account <id>",
	Short: "Create or replace an account",
	Long: `Put-account writes an active account to the Badger database at BADGER_PATH.
The database is locked while the gateway is serving from it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *identity.BadgerStore) error {
			name := displayName
			if name == "" {
				name = args[0]
			}
			if err := store.Put(identity.Record{ID: args[0], DisplayName: name, Active: true}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s saved\n", args[0])
			return nil
		})
	},
}

var disableAccountCmd = &cobra.Command{
	Use:   "disable-account <id>",
	Short: "Disable an account so its tokens are refused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *identity.BadgerStore) error {
			if err := store.Disable(args[0]); err != nil {
				return fmt.Errorf("disable %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s disabled\n", args[0])
			return nil
		})
	},
}

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "Print every stored account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *identity.BadgerStore) error {
			records, err := store.List()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Display name", "Active"})
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, r := range records {
				table.Append([]string{r.ID, r.DisplayName, strconv.FormatBool(r.Active)})
			}
			table.Render()
			return nil
		})
	},
}

func withStore(fn func(*identity.BadgerStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.BadgerPath == "" {
		return errNoBadgerPath
	}
	db, err := identity.OpenBadger(cfg.BadgerPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(identity.NewBadgerStore(db, newLogger(cfg)))
}

func init() {
	rootCmd.AddCommand(putAccountCmd, disableAccountCmd, listAccountsCmd)
	putAccountCmd.Flags().StringVar(&displayName, "name", "", "Display name shown to other room members (defaults to the id)")
}
