package cli

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/bishma/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serve sessions over HTTP. Each session id gets its own task state and snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			if a.cfg.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			sessions := server.NewSessions(rt.Open)
			srv := server.New(sessions, rt.gateway, server.WithGatewayTimeout(a.cfg.Gateway.Timeout))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Run(ctx, addr)
			})
			g.Go(func() error {
				<-ctx.Done()
				a.logger.Info().Int("sessions", sessions.Len()).Msg("closing sessions")
				return sessions.CloseAll()
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}
