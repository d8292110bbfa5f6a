package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/keyslot/internal/api"
	"github.com/dreamware/keyslot/internal/config"
	"github.com/dreamware/keyslot/internal/coordinator"
	"github.com/dreamware/keyslot/internal/slot"
	"github.com/dreamware/keyslot/internal/topology"
)

// app is the state shared by every command once flags are parsed.
type app struct {
	v        *viper.Viper
	cfg      config.Config
	logLevel zap.AtomicLevel
	logger   *zap.Logger

	// bindErr is reported by setup so a broken flag binding fails the command.
	bindErr error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "keyslot",
		Short:         "Hash slot calculator and cluster topology planner",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: a.setup,
	}

	configFlags := config.Flags()
	root.PersistentFlags().AddFlagSet(configFlags)
	a.bindErr = config.Bind(a.v, configFlags)

	root.AddCommand(
		a.slotCmd(),
		a.colocateCmd(),
		a.planCmd(),
		a.validateCmd(),
		a.locateCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.bindErr != nil {
		return errors.Wrap(a.bindErr, "failed to bind flags")
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	level, logger, err := config.NewLogger(cfg.LogLevel, zapcore.AddSync(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logLevel = level
	a.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}

func (a *app) slotCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "slot KEY...",
		Short: "Print the hash slot and hash tag of each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]slot.Assignment, len(args))
			for i, key := range args {
				out[i] = slot.AnalyzeKey(key)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			for _, as := range out {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", as.Key, as.Slot, as.HashTag)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func (a *app) colocateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "colocate KEY...",
		Short: "Check whether keys hash to the same slot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analysis, err := slot.AnalyzeKeys(args)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(analysis)
			if err != nil {
				return errors.Wrap(err, "failed to encode analysis")
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}

			if strict && !analysis.SameSlot {
				return errors.Wrapf(coordinator.ErrCrossSlot, "%d keys", len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the keys span several slots")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var redisCLI bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print a cluster blueprint for --owners owners with one replica each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, err := a.cfg.Planner(a.logger).Plan(a.cfg.Owners)
			if err != nil {
				return err
			}

			if redisCLI {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(topology.CreateCommand(topo), " "))
				return err
			}

			data, err := topology.Encode(topo, a.cfg.BlueprintFormat())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&redisCLI, "redis-cli", false, "print the redis-cli command that creates the cluster instead")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a blueprint file describes a complete cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := topology.ReadFile(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d owners, %d replicas\n",
				args[0], topo.OwnerCount, topo.ReplicaCount)
			return err
		},
	}
}

func (a *app) locateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate --blueprint FILE KEY...",
		Short: "Print the owner and replica serving each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Blueprint == "" {
				return errors.New("locate needs --blueprint")
			}
			registry, err := a.registry()
			if err != nil {
				return err
			}

			for _, key := range args {
				loc, err := registry.Locate(key)
				if err != nil {
					return errors.Wrapf(err, "key %q", key)
				}
				replica := "-"
				if loc.Replica != nil {
					replica = loc.Replica.Addr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\t%s\t%s\n",
					loc.Key, loc.Slot, loc.Owner.ID, loc.Owner.Addr, replica)
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the slot calculator and planner over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.registry()
			if err != nil {
				return err
			}

			srv := api.NewServer(api.Options{
				Logger:     a.logger,
				LogLevel:   &a.logLevel,
				Registry:   registry,
				Planner:    a.cfg.Planner(a.logger),
				Owners:     a.cfg.Owners,
				Registerer: prometheus.DefaultRegisterer,
				Gatherer:   prometheus.DefaultGatherer,
			})
			return srv.ListenAndServe(cmd.Context(), a.cfg.Listen)
		},
	}
}

// registry returns a slot registry loaded from --blueprint, or an empty one
// when no blueprint is configured.
func (a *app) registry() (*coordinator.SlotRegistry, error) {
	registry := coordinator.NewSlotRegistry(a.logger)
	if a.cfg.Blueprint == "" {
		return registry, nil
	}

	topo, err := topology.ReadFile(a.cfg.Blueprint)
	if err != nil {
		return nil, err
	}
	if err := registry.Load(topo); err != nil {
		return nil, err
	}
	return registry, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode json")
}
