package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/serve"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start a local HTTP server for synthesizing verdicts on demand and
reading recorded ones.

API Endpoints:
  GET    /health                       Health check
  POST   /api/v1/consensus             Synthesize a posted analysis document
                                       (?persist=true records the verdict)
  GET    /api/v1/verdicts              Stored verdicts, newest first (?limit=N)
  GET    /api/v1/verdicts/{session}    Stored verdict for a session
  DELETE /api/v1/verdicts/{session}    Forget a session's stored verdict
  GET    /api/v1/stats                 Outcome counts and DQ trend (?window=days)

Examples:
  ace serve                    # Start on the configured address
  ace serve --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("host") {
				host = cfg.Serve.Host
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.Serve.Port
			}
			if port < 1 || port > 65535 {
				return fmt.Errorf("--port must be 1-65535, got %d", port)
			}
			return runServe(cmd, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP bind host")
	cmd.Flags().IntVar(&port, "port", 7878, "HTTP server port")

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int) error {
	s, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := serve.New(serve.Config{
		Host:      host,
		Port:      port,
		Processor: s.processor(),
		Store:     s.store,
		Tracker:   s.tracker,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "Starting ace server on http://%s\n", srv.Addr())
	fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop")

	return srv.Start(ctx)
}
