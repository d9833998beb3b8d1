package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/streamcollector/internal/core/domain"
	"github.com/vietddude/streamcollector/internal/infra/storage"
)

var setCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a control field, e.g. set collect 1",
	Long: `Set a field of this collector's control document.

run, collect and update accept 1/0, true/false or on/off. terms_list appends a
handle:id pair used to resolve follow-mode handles.`,
	Args: cobra.ExactArgs(2),
	Run:  runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) {
	field, value := args[0], args[1]

	cfg := loadConfig()
	backend, ctx, cancel := openBackend(cfg)
	defer cancel()
	defer func() {
		_ = backend.Close()
	}()

	if err := applySet(ctx, backend.Store, cfg.Collector.FlagsKey, field, value); err != nil {
		slog.Error("Failed to set field", "field", field, "error", err)
		os.Exit(1)
	}
	slog.Info("Field updated", "key", cfg.Collector.FlagsKey, "field", field, "value", value)
}

func applySet(ctx context.Context, store storage.ControlStore, key, field, value string) error {
	switch field {
	case domain.FieldRun, domain.FieldCollect, domain.FieldUpdate:
		b, err := parseSwitch(value)
		if err != nil {
			return err
		}
		return store.Set(ctx, key, field, domain.FormatFlag(b))

	case domain.FieldTermsList:
		if _, _, ok := strings.Cut(value, ":"); !ok {
			return fmt.Errorf("expected handle:id, got %q", value)
		}
		return store.AppendToList(ctx, key, field, value)

	case domain.FieldRateLimitCounts:
		return fmt.Errorf("%s is written by the collector", field)

	default:
		return store.Set(ctx, key, field, value)
	}
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag value %q", v)
}
