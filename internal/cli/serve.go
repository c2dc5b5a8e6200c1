// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/offchat/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over a local HTTP and WebSocket API",
		Long: `Serve runs one chat session and exposes it on a local address:
REST endpoints under /api and a live event stream at /ws. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(true); err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return runServe(cmd.Context(), a, addr, append(a.cfg.Server.AllowedOrigins, origins...))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "extra CORS/WebSocket origin, repeatable")
	return cmd
}

func runServe(ctx context.Context, a *app, addr string, origins []string) error {
	rt, err := a.startSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.stop(); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}()

	srv := server.New(addr, rt.sess, server.Options{
		AllowedOrigins: origins,
		Logger:         a.log,
	})
	if !a.jsonMode {
		fmt.Fprintln(a.stderr, TitleStyle.Render("offchat")+" serving on "+ValueStyle.Render("http://"+addr))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
