package cli

import (
	"fmt"

	"github.com/Krish-357/Academic-Advisor/internal/config"
	"github.com/Krish-357/Academic-Advisor/internal/daemon"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the advisor HTTP and websocket service",
	Long: `Run the advisor service in the foreground.
Serves POST /api/query, POST /api/chat, GET /test, /healthz, /metrics and /ws
until interrupted with SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides gateway.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := getPIDFilePath(cfg)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Advisor listening on %s\n", d.Status().Addr)
	d.Wait()
	return nil
}

func getPIDFilePath(cfg *config.Config) string {
	return daemon.PIDFilePath(cfg.DataDir)
}

func isRunning(pidFile string) bool {
	return daemon.IsRunning(pidFile)
}
