package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/livechat/internal/daemon"
	"github.com/matheus3301/livechat/internal/lock"
	"github.com/matheus3301/livechat/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newStatusCmd(profile func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether chatd is running and connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := profile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile:   %s\n", name)

			pid := lock.Holder(session.Dir(name))
			if pid == 0 {
				fmt.Fprintln(out, "Daemon:    not running")
				return nil
			}
			fmt.Fprintf(out, "Daemon:    pid %d\n", pid)

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := probe(ctx, session.SocketPath(name))
			if err != nil {
				// The lock may belong to a chatctl chat, which serves no socket.
				fmt.Fprintf(out, "Transport: unknown (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Transport: %s\n", st)
			return nil
		},
	}
}

func probe(ctx context.Context, socketPath string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.TransportService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}
