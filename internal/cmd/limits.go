package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ryhazerus/throttle/store"
)

var (
	limitsListPrefix string

	limitsResetScope string
	limitsResetYes   bool
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage persisted bucket state",
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted bucket state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		states, err := st.List(cmd.Context(), strings.TrimSpace(limitsListPrefix))
		if err != nil {
			return err
		}
		renderStates(cmd.OutOrStdout(), states)
		return nil
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove persisted bucket state for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := strings.TrimSpace(limitsResetScope)
		if scope == "" {
			return errors.New("--scope is required")
		}
		if !limitsResetYes {
			return errors.New("reset requires --yes")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		if err := st.Reset(cmd.Context(), scope); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", scope)
		return err
	},
}

func init() {
	limitsListCmd.Flags().StringVar(&limitsListPrefix, "prefix", "", "only list scopes with this prefix")

	limitsResetCmd.Flags().StringVar(&limitsResetScope, "scope", "", "scope to reset")
	limitsResetCmd.Flags().BoolVar(&limitsResetYes, "yes", false, "confirm the reset")

	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsResetCmd)
}

func renderStates(w io.Writer, states []store.State) {
	if len(states) == 0 {
		_, _ = fmt.Fprintln(w, "(no stored bucket state)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Resource", "Per Minute", "Capacity", "Tokens", "Spent", "Adaptive", "Updated"})
	for _, st := range states {
		t.AppendRow(table.Row{
			st.Scope,
			st.Resource,
			fmt.Sprintf("%.2f", st.Rate*60),
			fmt.Sprintf("%.0f", st.Capacity),
			fmt.Sprintf("%.2f", st.Tokens),
			fmt.Sprintf("%.0f", st.Spent),
			st.Adaptive,
			st.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	t.Render()
}
