package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/streamcollector/internal/control"
	"github.com/vietddude/streamcollector/internal/core/config"
	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

var showHistory bool

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Show the control document of this collector",
	Run:   runFlags,
}

func init() {
	flagsCmd.Flags().BoolVar(&showHistory, "history", false, "also print the rate limit history")
	rootCmd.AddCommand(flagsCmd)
}

// openBackend connects the control store for an operator command.
func openBackend(cfg *config.AppConfig) (*control.Backend, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	if cfg.ControlStore.Backend == config.BackendMemory {
		slog.Warn("The memory control store is local to this process; use redis or postgres to reach a running collector")
	}

	backend, err := control.OpenBackend(ctx, cfg)
	if err != nil {
		cancel()
		slog.Error("Failed to open control store", "error", err)
		os.Exit(1)
	}
	return backend, ctx, cancel
}

func runFlags(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	backend, ctx, cancel := openBackend(cfg)
	defer cancel()
	defer func() {
		_ = backend.Close()
	}()

	key := cfg.Collector.FlagsKey
	fields, err := readFields(ctx, backend.Store, key)
	if err != nil {
		slog.Error("Failed to read control document", "key", key, "error", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "FIELD\tVALUE\n")
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", name, fields[name])
	}
	_ = w.Flush()

	if !showHistory {
		return
	}
	history, err := backend.Store.List(ctx, key, domain.FieldRateLimitCounts)
	if err != nil {
		slog.Error("Failed to read rate limit history", "error", err)
		os.Exit(1)
	}
	fmt.Printf("\n%s (%d)\n", domain.FieldRateLimitCounts, len(history))
	for _, entry := range history {
		fmt.Println(entry)
	}
}

// readFields returns every field when the backend supports it, otherwise
// just the lifecycle flags.
func readFields(ctx context.Context, store storage.ControlStore, key string) (map[string]string, error) {
	if fr, ok := store.(storage.FieldReader); ok {
		return fr.Fields(ctx, key)
	}
	flags, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		domain.FieldRun:     domain.FormatFlag(flags.Run),
		domain.FieldCollect: domain.FormatFlag(flags.Collect),
		domain.FieldUpdate:  domain.FormatFlag(flags.Update),
	}, nil
}
