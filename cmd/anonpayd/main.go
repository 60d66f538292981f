// main.go - anonpayd, the command-line front end of the anonymous-payment core.
//
// Usage:
//
//	anonpayd config init            write the default configuration
//	anonpayd params                 print the protocol parameters
//	anonpayd simulate               run the N-participant payment scenario
//	anonpayd verify <file>          verify an exported JoinSplit against the ledger
//	anonpayd health                 check configuration, generators, ledger and wallets
//
// Every command reads its settings from --config (default anonpayd.json). The ledger is
// a Pebble directory; wallets are JSON files, one per participant.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"anonpay/internal/errs"
	"anonpay/internal/joinsplit"
	"anonpay/internal/ledger"
	"anonpay/internal/params"
)

const defaultConfigPath = "anonpayd.json"

// app carries the state shared by every command after the root's pre-run.
type app struct {
	configPath string
	logLevel   string

	cfg     *Config
	log     *Logger
	metrics *MetricsCollector
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{metrics: NewMetricsCollector()}

	root := &cobra.Command{
		Use:   "anonpayd",
		Short: "Anonymous payments with one-out-of-many proofs",
		Long: `anonpayd drives the anonymous-payment core: it issues notes into a persistent
ledger, constructs and verifies JoinSplit transactions and reports metrics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skip-config"] == "true" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "path to the JSON configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		a.simulateCmd(),
		a.verifyCmd(),
		a.paramsCmd(),
		a.healthCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}
	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	log, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) simulateCmd() *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the end-to-end payment scenario and print metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed != "" {
				a.cfg.Seed = seed
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(a.cfg.TimeoutSeconds)*time.Second)
			defer cancel()

			a.log.Info("=== Anonymous payments: N=%d scenario (%s) ===", a.cfg.NumParticipants, a.cfg.PrivacyLevel)
			res, err := runSimulation(ctx, a.cfg, a.log, a.metrics)
			if err != nil {
				a.log.Error("simulation failed: %v", err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n=== Simulation Complete ===\n")
			fmt.Fprintf(out, "Transactions: %d\n", len(res.Transactions))
			fmt.Fprintf(out, "Double spend rejected: %v\n", res.DoubleSpendRejected)
			fmt.Fprintf(out, "Accumulator: epoch %d, size %d\n", res.Epoch, res.Size)
			for _, id := range res.Transactions {
				fmt.Fprintf(out, "  tx %s\n", id)
			}
			return writeJSON(out, struct {
				Balances map[string]uint64 `json:"balances"`
				Metrics  Summary           `json:"metrics"`
			}{res.Balances, a.metrics.GetMetricsSummary()})
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "derive all randomness from this seed (reproducible runs)")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify an encoded JoinSplit against the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			js, err := joinsplit.Decode(b)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			l, err := ledger.Open(a.cfg.LedgerPath,
				ledger.WithRetention(a.cfg.Protocol.Retention),
				ledger.WithLogger(a.log.Zerolog()))
			if err != nil {
				return err
			}
			defer l.Close()

			start := time.Now()
			var fx *joinsplit.Effects
			if submit {
				fx, err = l.Submit(js)
			} else {
				fx, err = joinsplit.Verify(js, l, l)
			}
			a.metrics.RecordProofVerification(js.Level().String(), time.Since(start))
			out := cmd.OutOrStdout()
			if err != nil {
				a.log.Warn("JoinSplit %s rejected: %v", js.ID(), err)
				a.log.Audit("reject", map[string]any{"tx": js.ID().String(), "reason": reason(err)})
				fmt.Fprintf(out, "INVALID %s: %v\n", js.ID(), err)
				return err
			}
			fmt.Fprintf(out, "VALID %s (epoch %d, fee %d, %d in, %d out)\n",
				js.ID(), js.Epoch(), js.Fee(), len(fx.Serials), len(fx.Outputs))
			for _, sn := range fx.Serials {
				fmt.Fprintf(out, "  serial %s\n", sn)
			}
			if submit {
				a.log.Audit("submit", map[string]any{"tx": js.ID().String()})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "record the JoinSplit in the ledger once verified")
	return cmd
}

// reason maps an error to a short audit label.
func reason(err error) string {
	switch {
	case errors.Is(err, errs.ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, errs.ErrEpochUnavailable):
		return "epoch_unavailable"
	case errors.Is(err, errs.ErrProofVerification):
		return "proof"
	default:
		return "other"
	}
}

type levelInfo struct {
	Level  params.PrivacyLevel `json:"level"`
	Decoys int                 `json:"decoys"`
	Depth  int                 `json:"depth"`
}

func (a *app) paramsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Print the protocol parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			levels := make([]levelInfo, 0, 3)
			for _, l := range []params.PrivacyLevel{params.Standard, params.Enhanced, params.Maximum} {
				levels = append(levels, levelInfo{Level: l, Decoys: l.DecoyCount(), Depth: l.Depth()})
			}
			g, h := params.G(), params.H()
			return writeJSON(cmd.OutOrStdout(), struct {
				Version  int                 `json:"version"`
				Domain   string              `json:"domain"`
				Protocol params.Params       `json:"protocol"`
				Default  params.PrivacyLevel `json:"default_level"`
				Levels   []levelInfo         `json:"levels"`
				G        string              `json:"g"`
				H        string              `json:"h"`
			}{
				Version:  params.Version,
				Domain:   params.DomainTag,
				Protocol: a.cfg.Protocol,
				Default:  a.cfg.PrivacyLevel,
				Levels:   levels,
				G:        fmt.Sprintf("%x", g.Bytes()),
				H:        fmt.Sprintf("%x", h.Bytes()),
			})
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check configuration, generators, ledger and wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := newDaemonHealth(a.cfg).CheckHealth(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), sh); err != nil {
				return err
			}
			if sh.OverallStatus == Unhealthy {
				return fmt.Errorf("system is unhealthy")
			}
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Performs a configuration operation",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skip-config": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}
			if err := SaveConfig(DefaultConfig(), a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
