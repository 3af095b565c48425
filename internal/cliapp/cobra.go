package cliapp

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lapesd/faultsolve/internal/driver"
)

// NewRootCommand builds the cobra command tree shared by cmd/heatsolve
// and cmd/jacobisolve: a persistent --config flag on the root (the
// teacher's cmd/chaos-runner convention), and a single "run" subcommand
// carrying every Options field as a flag. defaultKernel picks which
// binary's stencil this command runs; there is no --kernel flag since
// that choice is what distinguishes the two binaries.
func NewRootCommand(use, short string, defaultKernel driver.Kernel) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   use,
		Short: short,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (empty uses the built-in defaults; no file is read)")

	runCmd := &cobra.Command{
		Use:   "run",
		Args:  cobra.NoArgs,
		Short: "Run the solver",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optionsFromFlags(cmd, defaultKernel, cfgFile)
			if err != nil {
				return err
			}
			return Run(cmd.Context(), opts)
		},
	}
	addRunFlags(runCmd)
	root.AddCommand(runCmd)

	return root
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("debug", false, "enable debug logging and append the debug trailer (ten timer slots, written as zeros) to checkpoint payloads")
	f.Bool("use-scr-need-checkpoint", false, "accepted but not read; the config file's checkpoint.use_store_need_checkpoint is what delegates checkpoint timing to the store backend")
	f.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	f.String("fault-plan", "", "path to a declarative fault plan file")

	f.Bool("simulate", false, "run every rank as an in-process goroutine instead of dialing out over gRPC")
	f.Int("ranks", 1, "number of ranks for --simulate")

	f.Int("p", 0, "process grid rows (0 keeps the config file's value)")
	f.Int("q", 0, "process grid columns (0 keeps the config file's value)")
	f.Int("nb", 0, "global domain rows, split across the p process rows (0 keeps the config file's value)")
	f.Int("mb", 0, "global domain columns, split across the q process columns (0 keeps the config file's value)")

	f.Int("rank", 0, "this process's rank (distributed mode)")
	f.String("listen", "", "address to listen on (distributed mode)")
	f.StringSlice("roster", nil, "listen address of every original rank, in rank order (distributed mode)")

	f.Bool("spawned", false, "this process is a replacement rank bootstrapping via the spare pool")
	f.Int("spawn-index", 0, "this process's position within --spawn-roster (--spawned mode)")
	f.StringSlice("spawn-roster", nil, "addresses of every replacement this process's run reserves (--spawned and --docker)")
	f.IntSlice("dead-ranks", nil, "original ranks being replaced (--spawned mode)")

	f.Bool("docker", false, "launch replacement ranks as Docker containers when repair needs them")
}

func optionsFromFlags(cmd *cobra.Command, defaultKernel driver.Kernel, cfgFile string) (Options, error) {
	f := cmd.Flags()

	debug, _ := f.GetBool("debug")
	simulate, _ := f.GetBool("simulate")
	ranks, _ := f.GetInt("ranks")
	rank, _ := f.GetInt("rank")
	listen, _ := f.GetString("listen")
	roster, _ := f.GetStringSlice("roster")
	spawned, _ := f.GetBool("spawned")
	spawnIndex, _ := f.GetInt("spawn-index")
	spawnRoster, _ := f.GetStringSlice("spawn-roster")
	deadRanks, _ := f.GetIntSlice("dead-ranks")
	dockerMode, _ := f.GetBool("docker")
	faultPlan, _ := f.GetString("fault-plan")
	metricsAddr, _ := f.GetString("metrics-addr")
	p, _ := f.GetInt("p")
	q, _ := f.GetInt("q")
	nb, _ := f.GetInt("nb")
	mb, _ := f.GetInt("mb")

	if !simulate && !spawned && listen == "" {
		return Options{}, fmt.Errorf("--listen is required unless --simulate is set")
	}
	if !simulate && len(roster) == 0 && len(spawnRoster) == 0 {
		return Options{}, fmt.Errorf("--roster is required unless --simulate is set")
	}

	return Options{
		ConfigPath:    cfgFile,
		Kernel:        defaultKernel,
		Debug:         debug,
		Simulate:      simulate,
		Ranks:         ranks,
		Rank:          rank,
		Listen:        listen,
		Roster:        roster,
		Spawned:       spawned,
		SpawnIndex:    spawnIndex,
		SpawnRoster:   spawnRoster,
		DeadRanks:     deadRanks,
		Docker:        dockerMode,
		FaultPlanPath: faultPlan,
		MetricsAddr:   metricsAddr,
		GridP:         p,
		GridQ:         q,
		GridNB:        nb,
		GridMB:        mb,
	}, nil
}
