package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/livechat/internal/session"
	"github.com/matheus3301/livechat/internal/store"
	"github.com/spf13/cobra"
)

func newVisitorCmd(profile func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "visitor",
		Short: "Print the profile's visitor id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := profile()
			if err != nil {
				return err
			}
			path := session.DBPath(name)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "no visitor yet")
				return nil
			}

			// No lock and no migration: chatd may own the profile.
			db, err := store.OpenReadOnly(path)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			id, err := db.VisitorID()
			if err != nil {
				return err
			}
			if id == "" {
				id = "no visitor yet"
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
