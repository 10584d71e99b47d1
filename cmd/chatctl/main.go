package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/matheus3301/livechat/internal/session"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var profileFlag string
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat with a project's support team from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; the config file and real environment still apply.
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")

	profile := func() (string, error) {
		name := session.Resolve(profileFlag)
		if err := session.ValidateName(name); err != nil {
			return "", err
		}
		return name, nil
	}

	root.AddCommand(
		newChatCmd(profile),
		newOfflineCmd(profile),
		newStatusCmd(profile),
		newVisitorCmd(profile),
	)
	return root
}
