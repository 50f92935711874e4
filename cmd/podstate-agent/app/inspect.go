package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/podstate/cmd/podstate-agent/app/options"
	"github.com/autopeer-io/podstate/internal/podstate/codec"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/internal/store"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func newInspectCommand(ctx context.Context, opts *options.AgentOptions) *cobra.Command {
	output := outputTable

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted pod state snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.New(ctx, opts.StoreOptions())
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			defer st.Close()

			data, ok, err := st.Read(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "No pod state has been persisted yet.")
				return nil
			}

			snapshot, version, err := codec.Decode(data)
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), output, snapshot, version)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", output, "Output format: table, json or yaml.")
	return cmd
}

func printSnapshot(w io.Writer, format string, s model.Snapshot, version int) error {
	switch format {
	case outputTable:
		fmt.Fprintln(w, snapshotTable(s, version))
		return nil
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case outputYAML:
		// Go through JSON so the keys match the API.
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func snapshotTable(s model.Snapshot, version int) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("FIELD", "VALUE")
	table.AddRow("Format version", version)
	table.AddRow("Activated at", formatTime(s.ActivatedAt))
	table.AddRow("Last response", formatTime(s.LastResponseAt))

	if tbr := s.TempBasal; tbr != nil {
		state := "confirmed"
		if !tbr.Confirmed {
			state = "unconfirmed"
		}
		table.AddRow("Temp basal", fmt.Sprintf("%.2f U/h for %d min from %s (%s)",
			tbr.RateUnitsPerHour, tbr.DurationMinutes, formatTime(tbr.StartTime), state))
	} else {
		table.AddRow("Temp basal", "none")
	}

	alerts := make([]string, len(s.ActiveAlerts))
	for i, a := range s.ActiveAlerts {
		alerts[i] = string(a)
	}
	table.AddRow("Active alerts", orNone(strings.Join(alerts, ", ")))

	if f := s.FaultEvent; f != nil {
		table.AddRow("Fault", fmt.Sprintf("0x%02x at %s", f.Code, formatTime(f.OccurredAt)))
	} else {
		table.AddRow("Fault", "none")
	}

	if u := s.Uncertainty; u != nil {
		table.AddRow("Pending command", fmt.Sprintf("%s %s, deadline %s", u.ID, u.Command.Kind, formatTime(u.Deadline)))
	} else {
		table.AddRow("Pending command", "none")
	}
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
