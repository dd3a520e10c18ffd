package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"deepsearch-be/pkg/events"
	pktNats "deepsearch-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	watchEvents  []string
	watchDurable string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow session events published by running servers",
	Long: `Print deep search lifecycle events as servers publish them to NATS.

Examples:
  deepsearch watch
  deepsearch watch --event QUERY_FAILED
  deepsearch watch --durable audit`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVarP(&watchEvents, "event", "e",
		[]string{events.QueryStarted, events.QueryCompleted, events.QueryFailed}, "Event types to follow")
	watchCmd.Flags().StringVar(&watchDurable, "durable", "", "Durable consumer name prefix (default: only new events)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.App.NatsURL == "" {
		return fmt.Errorf("NATS_URL is not configured")
	}
	log := newLogger()
	defer log.Sync()

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	out := cmd.OutOrStdout()
	handler := func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		printEvent(out, e)
		return nil
	}

	for _, eventType := range watchEvents {
		durable := ""
		if watchDurable != "" {
			durable = watchDurable + "-" + eventType
		}
		if err := sub.Subscribe(ctx, eventType, durable, handler); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %v on %s (Ctrl-C to stop)\n", watchEvents, cfg.App.NatsURL)
	<-ctx.Done()
	return nil
}

func printEvent(w io.Writer, e events.Event) {
	c := color.New(color.FgCyan)
	switch e.EventType() {
	case events.QueryCompleted:
		c = color.New(color.FgGreen)
	case events.QueryFailed:
		c = color.New(color.FgRed)
	}

	payload := e.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s ", e.Timestamp().Format("15:04:05"))
	c.Fprint(w, e.EventType())
	for _, k := range keys {
		fmt.Fprintf(w, " %s=%v", k, payload[k])
	}
	fmt.Fprintln(w)
}
