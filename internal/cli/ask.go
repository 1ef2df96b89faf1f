package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Krish-357/Academic-Advisor/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	askUser    string
	askContext map[string]string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask both agents a question and print the JSON response",
	Long: `Answer one question the same way POST /api/query does: retrieve the
student's recent questions, ask every configured agent in parallel, record the
question, and print the aggregated JSON response.`,
	Example: `  advisor ask --user u1 "Which electives help with a data science career?"
  advisor ask --user u1 --context year=2 --context major=cs "Should I take a minor?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "student user id (required)")
	askCmd.Flags().StringToStringVar(&askContext, "context", nil, "extra context as key=value, repeatable")
	_ = askCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx := cmd.Context()
	core, err := daemon.BuildCore(ctx, cfg, log.GetZerolog())
	if err != nil {
		return err
	}
	defer core.Close()

	var reqContext map[string]interface{}
	if len(askContext) > 0 {
		reqContext = make(map[string]interface{}, len(askContext))
		for k, v := range askContext {
			reqContext[k] = v
		}
	}

	resp, err := core.Orchestrator.Handle(ctx, askUser, strings.Join(args, " "), reqContext)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
