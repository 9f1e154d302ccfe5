// Command collbench runs collectives on an in-process world with the
// offload component attached over the baseline component, and reports how
// many calls were offloaded and how many fell back.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:   "collbench",
		Short: "Benchmark collective offload against the baseline component",
		Long: "collbench builds an in-process world, attaches the baseline and offload components to\n" +
			"every rank and runs one collective repeatedly. Offload settings are read from the\n" +
			"environment (see --env-prefix) and then overridden by flags.",
		Example:      "  collbench --ranks 8 --op allreduce --type float32 --count 4096\n  collbench --op ialltoallv --type long_double --metrics",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.verboseSet = cmd.Flags().Changed("verbose")
			opts.disableSet = cmd.Flags().Changed("disable")
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.ranks, "ranks", opts.ranks, "number of ranks in the world")
	flags.IntVarP(&opts.iterations, "iterations", "n", opts.iterations, "calls per rank")
	flags.IntVar(&opts.count, "count", opts.count, "elements per rank (per block for reduce_scatter_block and alltoallv)")
	flags.StringVar(&opts.op, "op", opts.op, "operation name; a leading i selects the non-blocking form")
	flags.StringVar(&opts.dtype, "type", opts.dtype, "datatype name")
	flags.StringVar(&opts.reduce, "reduce", opts.reduce, "reduction operator for reducing collectives")
	flags.BoolVar(&opts.disable, "disable", false, "decline every group in the offload component")
	flags.IntVarP(&opts.verbose, "verbose", "v", 0, "offload verbose level (3 dispatch, 5 translation)")
	flags.BoolVar(&opts.metrics, "metrics", false, "print the Prometheus counters after the run")
	flags.BoolVar(&opts.debug, "debug", false, "use a development logger")
	flags.StringVar(&opts.envPrefix, "env-prefix", opts.envPrefix, "prefix of the offload environment variables")
	return cmd
}
