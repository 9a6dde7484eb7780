package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	hpmc "github.com/maojinyuan/hoomd-blue/hpmc"
)

var (
	// CLI flags for the update engine
	seed       uint64  // Seed for all keyed random streams
	steps      uint64  // Number of timesteps to run
	nselect    int     // Sweeps per timestep
	logLevel   string  // Log verbosity level
	configPath string  // Optional YAML run configuration
	boxLength  float64 // Edge length of the cubic periodic box
	nparticles int     // Number of particles on the initial lattice
	diameter   float64 // Sphere diameter
	moveD      float64 // Maximum translation displacement
	moveRatio  float64 // Probability of picking a translation move
	devices    int     // Number of concurrent compute units

	// CLI flags for implicit depletants
	fugacity float64 // Depletant fugacity (0 disables)
	ntrial   int     // Auxiliary-variable re-insertion trials (0 = direct)

	// CLI flags for the decompose subcommand
	nranks int // Number of ranks to decompose over
	gridNx int // Pinned grid extent in x (0 = free)
	gridNy int // Pinned grid extent in y (0 = free)
	gridNz int // Pinned grid extent in z (0 = free)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hpmc",
	Short: "Parallel hard-particle Monte Carlo update engine",
}

// buildConfig assembles the run configuration from the YAML file when
// given, with CLI flags filling the rest.
func buildConfig() (*hpmc.RunConfig, error) {
	if configPath != "" {
		return hpmc.LoadRunConfig(configPath)
	}
	ratio := moveRatio
	cfg := &hpmc.RunConfig{
		Seed:    seed,
		NSelect: nselect,
		Moves: hpmc.MoveConfig{
			D:         []float64{moveD},
			MoveRatio: &ratio,
		},
		Device: hpmc.DeviceConfig{Devices: devices},
	}
	if fugacity != 0 {
		cfg.Depletants = []hpmc.DepletantPairConfig{
			{TypeI: 0, TypeJ: 0, Fugacity: fugacity, NTrial: ntrial},
		}
	}
	return cfg, nil
}

// runCmd executes the Monte Carlo run using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run hard-sphere Monte Carlo in a periodic box",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := buildConfig()
		if err != nil {
			logrus.Fatalf("unable to read run config: %v", err)
		}

		box := hpmc.NewCubicBox(boxLength)
		pd, err := hpmc.NewParticleData(hpmc.NewCubicLattice(nparticles, box, 0))
		if err != nil {
			logrus.Fatalf("bad initial configuration: %v", err)
		}
		shapes := []hpmc.Shape{hpmc.SphereShape{Radius: diameter / 2}}

		it, err := hpmc.NewIntegrator(cfg, pd, shapes, box)
		if err != nil {
			logrus.Fatalf("integrator setup failed: %v", err)
		}

		logrus.Infof("Starting run: %d particles, box L=%v, %d steps x %d sweeps, %d devices",
			nparticles, boxLength, steps, cfg.NSelect, cfg.Device.Devices)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		startTime := time.Now()
		for t := uint64(0); t < steps; t++ {
			if err := it.Update(ctx, t); err != nil {
				logrus.Fatalf("run aborted at timestep %d: %v", t, err)
			}
		}

		hpmc.PrintCounters(it.Counters, it.Implicit, time.Since(startTime))
		logrus.Info("Run complete.")
	},
}

// decomposeCmd reports the spatial grid the engine would pick for a
// box and rank count, without running anything.
var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Show the domain grid chosen for a box and rank count",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		box := hpmc.NewCubicBox(boxLength)
		nx, ny, nz, ok := hpmc.FindDecomposition(box.L, nranks, gridNx, gridNy, gridNz)
		if !ok {
			logrus.Fatalf("no grid of %d ranks satisfies nx=%d ny=%d nz=%d", nranks, gridNx, gridNy, gridNz)
		}
		fmt.Printf("grid: %d x %d x %d (%d ranks)\n", nx, ny, nz, nx*ny*nz)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {

	runCmd.Flags().Uint64Var(&seed, "seed", 42, "Seed for all keyed random streams")
	runCmd.Flags().Uint64Var(&steps, "steps", 100, "Number of timesteps")
	runCmd.Flags().IntVar(&nselect, "nselect", 4, "Sweeps per timestep")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run configuration (overrides move/depletant flags)")

	// system configs
	runCmd.Flags().Float64Var(&boxLength, "box", 10.0, "Cubic box edge length")
	runCmd.Flags().IntVar(&nparticles, "particles", 125, "Number of particles")
	runCmd.Flags().Float64Var(&diameter, "diameter", 1.0, "Sphere diameter")

	// trial move configs
	runCmd.Flags().Float64Var(&moveD, "d", 0.1, "Maximum translation displacement")
	runCmd.Flags().Float64Var(&moveRatio, "move-ratio", 0.5, "Probability of a translation move")
	runCmd.Flags().IntVar(&devices, "devices", 1, "Concurrent compute units")

	// implicit depletant configs
	runCmd.Flags().Float64Var(&fugacity, "fugacity", 0.0, "Depletant fugacity (0 disables depletants)")
	runCmd.Flags().IntVar(&ntrial, "ntrial", 0, "Auxiliary re-insertion trials (0 = direct sampling)")

	decomposeCmd.Flags().StringVar(&logLevel, "log", "error", "Log level")
	decomposeCmd.Flags().Float64Var(&boxLength, "box", 10.0, "Cubic box edge length")
	decomposeCmd.Flags().IntVar(&nranks, "ranks", 8, "Number of ranks")
	decomposeCmd.Flags().IntVar(&gridNx, "nx", 0, "Pinned grid extent in x (0 = free)")
	decomposeCmd.Flags().IntVar(&gridNy, "ny", 0, "Pinned grid extent in y (0 = free)")
	decomposeCmd.Flags().IntVar(&gridNz, "nz", 0, "Pinned grid extent in z (0 = free)")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decomposeCmd)
}
