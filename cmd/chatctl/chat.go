package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/conversation"
	"github.com/matheus3301/livechat/internal/handoff"
	"github.com/matheus3301/livechat/internal/send"
	"github.com/matheus3301/livechat/internal/status"
	"github.com/matheus3301/livechat/internal/transport"
	"github.com/spf13/cobra"
)

const chatHelp = `commands:
  /human          ask for a human agent
  /retry          resend the last undelivered message
  /attach <path>  send a file, the rest of the line is the caption
  /quit           leave (the conversation resumes next time)`

const pollingNotice = "[live connection unavailable, checking for messages every few seconds]"

func newChatCmd(profile func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the conversation and chat line by line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := profile()
			if err != nil {
				return err
			}
			l, err := openLocal(name)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, l, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, l *local, in io.Reader, out io.Writer) error {
	events, unsub := l.bus.Subscribe("", 64)
	defer unsub()

	if err := l.conv.Open(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, chatHelp)

	tr := newTranscript(out)
	tr.Render(l.conv.Messages())
	if l.conv.Session() != nil && l.conv.ConnectionState() != transport.Connected {
		fmt.Fprintln(out, pollingNotice)
	}
	if l.conv.Mode() == chat.ModeOffline {
		fmt.Fprintln(out, "Nobody is available right now. Use `chatctl offline` to leave a message.")
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			describe(out, tr, l.conv, evt)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, l.conv, line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, conv *conversation.Conversation, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/retry":
		return false, conv.Retry(ctx)
	case line == "/human":
		_, err := conv.RequestHuman(ctx)
		if errors.Is(err, handoff.ErrHandoffInProgress) {
			return false, errors.New("already asked for a human")
		}
		return false, err
	case strings.HasPrefix(line, "/attach "):
		path, caption, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")), " ")
		f, err := os.Open(path)
		if err != nil {
			return false, err
		}
		defer func() { _ = f.Close() }()
		file := send.File{Name: filepath.Base(path), MimeType: mime.TypeByExtension(filepath.Ext(path)), Body: f}
		return false, sendErr(conv.Send(ctx, caption, []send.File{file}))
	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %s\n%s", line, chatHelp)
	default:
		conv.InputChanged(ctx)
		return false, sendErr(conv.Send(ctx, line, nil))
	}
}

// sendErr hides failures the transcript already shows.
func sendErr(err error) error {
	if errors.Is(err, send.ErrSendFailed) || errors.Is(err, send.ErrUploadFailed) {
		return nil
	}
	return err
}

func describe(out io.Writer, tr *transcript, conv *conversation.Conversation, evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageChanged:
		tr.Render(conv.Messages())
	case bus.KindTransportState:
		if c, ok := evt.Payload.(status.Change[transport.State]); ok {
			switch c.To {
			case transport.Connected:
				fmt.Fprintln(out, "[connected]")
			case transport.Disconnected:
				// Failed redials while polling go from Connecting, not Connected.
				if c.From == transport.Connected {
					fmt.Fprintln(out, pollingNotice)
				}
			}
		}
	case bus.KindModeChanged:
		if c, ok := evt.Payload.(conversation.ModeChange); ok {
			fmt.Fprintf(out, "[%s mode]\n", c.To)
		}
	case bus.KindTyping:
		if t, ok := evt.Payload.(api.Typing); ok && t.IsTyping {
			who := t.AgentName
			if who == "" {
				who = "Someone"
			}
			fmt.Fprintf(out, "[%s is typing]\n", who)
		}
	}
}
