package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/livechat/internal/chat"
	"github.com/spf13/cobra"
)

func newOfflineCmd(profile func() (string, error)) *cobra.Command {
	var form chat.OfflineForm
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Leave a message for the team when nobody is online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := form.Validate(); err != nil {
				return err
			}
			name, err := profile()
			if err != nil {
				return err
			}
			l, err := openLocal(name)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), l.cfg.Timing.RequestTimeout.Duration)
			defer cancel()
			if err := l.conv.SubmitOfflineForm(ctx, form); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Thanks! We received your message and will get back to you soon.")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Name, "name", "", "your name")
	f.StringVar(&form.Email, "email", "", "email to reply to")
	f.StringVar(&form.Phone, "phone", "", "phone number (optional)")
	f.StringVarP(&form.Message, "message", "m", "", "what you need help with")
	f.StringVar(&form.PageURL, "page-url", "", "page the question is about (defaults to source_url)")
	f.StringVar(&form.FormSlug, "form", "", "offline form slug (defaults to the project's)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
