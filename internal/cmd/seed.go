package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryhazerus/throttle"
)

var seedCredential string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write sample bucket state to the configured store",
	Long: `seed configures a handful of sample limits, spends some traffic against
them and flushes the result to the configured store. Use it to try
"throttle limits list" against a SQLite file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		reg, err := newRegistry(cmd.Context(), cfg, st)
		if err != nil {
			return err
		}

		models := throttle.NewModelLimiter(reg, "openai", seedCredential)
		for model, quota := range map[string][2]float64{
			"gpt-4o":      {500, 30000},
			"gpt-4o-mini": {500, 200000},
		} {
			if err := models.SetLimits(model, quota[0], quota[1]); err != nil {
				return err
			}
		}
		if err := reg.SetLimit("stripe", throttle.Requests, 100, throttle.PerMinute); err != nil {
			return err
		}
		if err := reg.SetLimit("github", throttle.Requests, 5000/60.0, throttle.PerHour); err != nil {
			return err
		}
		if err := reg.SetAdaptive("search", throttle.Requests, cfg.Controller()); err != nil {
			return err
		}

		reg.Spend(models.Key("gpt-4o"), throttle.Costs{throttle.Requests: 58, throttle.Tokens: 21400})
		reg.Spend(models.Key("gpt-4o-mini"), throttle.Costs{throttle.Requests: 12, throttle.Tokens: 3100})
		reg.Spend("stripe", throttle.Costs{throttle.Requests: 42})
		reg.Spend("github", throttle.Costs{throttle.Requests: 137})
		reg.OnRejection("search")

		if err := reg.Flush(cmd.Context()); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d entries into the %s store\n", len(reg.Snapshot()), cfg.Store.Driver)
		return err
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedCredential, "credential", "sk-demo", "credential used to derive the sample model scopes")
}
