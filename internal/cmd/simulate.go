package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryhazerus/throttle"
)

var (
	simulateTrueRate    float64
	simulateInitialRate float64
	simulateWorkers     int
	simulateDuration    time.Duration
	simulateInterval    time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Pace traffic against a simulated rate-limited upstream",
	Long: `simulate starts a local upstream that answers 429 above a fixed request
rate and drives it through an adaptive limiter. It prints how the learned
rate and the outcomes evolve over time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := cfg.Controller()
		if simulateInitialRate > 0 {
			ctrl.InitialRate = simulateInitialRate
		}
		samples, err := simulate(cmd.Context(), simulation{
			trueRate: simulateTrueRate,
			workers:  simulateWorkers,
			duration: simulateDuration,
			interval: simulateInterval,
			ctrl:     ctrl,
			guard:    cfg.GuardOptions(),
		})
		if err != nil {
			return err
		}
		renderSamples(cmd.OutOrStdout(), samples)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateTrueRate, "true-rate", 20, "requests per second the upstream accepts")
	simulateCmd.Flags().Float64Var(&simulateInitialRate, "initial-rate", 0, "starting rate of the limiter (default from config)")
	simulateCmd.Flags().IntVar(&simulateWorkers, "workers", 8, "concurrent callers")
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 10*time.Second, "how long to run")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", time.Second, "sampling interval")
}

type simulation struct {
	trueRate float64
	workers  int
	duration time.Duration
	interval time.Duration
	ctrl     throttle.ControllerConfig
	guard    []throttle.GuardOption
}

type sample struct {
	elapsed  time.Duration
	rate     float64
	accepted int64
	rejected int64
	failed   int64
}

// simulate runs the workers against a local upstream and samples the
// limiter every interval.
func simulate(ctx context.Context, sim simulation) ([]sample, error) {
	upstream, err := throttle.NewBucket(sim.trueRate, sim.trueRate, throttle.WithTokens(sim.trueRate))
	if err != nil {
		return nil, fmt.Errorf("invalid true rate: %w", err)
	}

	var accepted, rejected, failed atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upstream.SpendIfAvailable(1) != nil {
			rejected.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		accepted.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := throttle.NewRegistry(throttle.WithLogger(logger), throttle.WithMaxWait(sim.ctrl.MaxWait))
	if err := reg.SetAdaptive("upstream", throttle.Requests, sim.ctrl); err != nil {
		return nil, err
	}
	limiter, _ := reg.Bucket("upstream", throttle.Requests)

	opts := append([]throttle.GuardOption{throttle.WithGuardLogger(logger)}, sim.guard...)
	client := &http.Client{
		Transport: reg.Transport(srv.Client().Transport, []throttle.Route{{Pattern: "*", Scope: "upstream"}}, opts...),
	}

	ctx, cancel := context.WithTimeout(ctx, sim.duration)
	defer cancel()

	var wg conc.WaitGroup
	for i := 0; i < sim.workers; i++ {
		wg.Go(func() {
			for ctx.Err() == nil {
				if err := call(ctx, client, srv.URL); err != nil && ctx.Err() == nil {
					failed.Add(1)
					logger.Debug("call failed", zap.Error(err))
				}
			}
		})
	}

	start := time.Now()
	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	var samples []sample
	for done := false; !done; {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			done = true
		}
		samples = append(samples, sample{
			elapsed:  time.Since(start).Round(time.Millisecond),
			rate:     limiter.Rate(),
			accepted: accepted.Load(),
			rejected: rejected.Load(),
			failed:   failed.Load(),
		})
	}
	wg.Wait()
	return samples, nil
}

func call(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func renderSamples(w io.Writer, samples []sample) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Elapsed", "Rate (req/s)", "Accepted", "Rejected (429)", "Failed"})
	for _, s := range samples {
		t.AppendRow(table.Row{
			s.elapsed,
			fmt.Sprintf("%.2f", s.rate),
			s.accepted,
			s.rejected,
			s.failed,
		})
	}
	t.Render()
}
