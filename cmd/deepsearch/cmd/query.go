package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"deepsearch-be/internal/bootstrap"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	queryCollections []string
	queryMaxRounds   int
	queryTokenBudget int
	queryTopK        int
	queryFanOut      int
	queryQuiet       bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question by iterative search",
	Long: `Run one deep search session and print the cited answer.

Progress of every round is written to stderr. Press Ctrl-C once to stop
searching early; the answer is then written from the evidence found so far.

Examples:
  deepsearch query "What changed in the Q3 release?"
  deepsearch query "Who owns billing?" --collection eng --collection hr
  deepsearch query "Summarise the incident" --max-rounds 5 --token-budget 20000 -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringSliceVarP(&queryCollections, "collection", "c", nil, "Collections to search (default: all, narrowed by routing)")
	queryCmd.Flags().IntVar(&queryMaxRounds, "max-rounds", 0, "Maximum search rounds (0 uses the configured default)")
	queryCmd.Flags().IntVar(&queryTokenBudget, "token-budget", 0, "Token budget for the session (0 uses the configured default)")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "Hits per sub-query and collection")
	queryCmd.Flags().IntVar(&queryFanOut, "fan-out", 0, "Sub-queries per round")
	queryCmd.Flags().BoolVarP(&queryQuiet, "quiet", "q", false, "Do not print round progress")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	var observer executor.Observer
	if !queryQuiet {
		observer = newProgressPrinter(cmd.ErrOrStderr())
	}
	controller := bootstrap.NewSearchController(rt.cfg, rt.gateways, observer, rt.log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	question := strings.Join(args, " ")
	res, err := controller.RunQuery(ctx, question, queryCollections, executor.Params{
		MaxRounds:   queryMaxRounds,
		TokenBudget: queryTokenBudget,
		TopK:        queryTopK,
		FanOut:      queryFanOut,
	})
	if err != nil && res == nil {
		return err
	}

	if outputFormat == "json" {
		if encErr := writeJSON(cmd.OutOrStdout(), res); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes the answer, its sources and a one-line summary.
func printResult(w io.Writer, res *executor.Result) {
	fmt.Fprintln(w, res.Answer)

	if len(res.EvidenceUsed) > 0 {
		fmt.Fprintln(w)
		color.New(color.Bold).Fprintln(w, "Sources:")
		for i, c := range res.EvidenceUsed {
			fmt.Fprintf(w, "  [%d] %s (%s, score %.3f)\n", i+1, c.Citation(), c.Collection, c.Score)
		}
	}

	rounds := 0
	if res.State != nil {
		rounds = len(res.State.Rounds)
	}
	fmt.Fprintln(w)
	reason := color.New(color.FgGreen)
	if res.TerminationReason != session.TerminationEvaluatorStop {
		reason = color.New(color.FgYellow)
	}
	fmt.Fprintf(w, "%d round(s), %d tokens, stopped: ", rounds, res.TokensConsumed)
	reason.Fprintln(w, res.TerminationReason)
}
