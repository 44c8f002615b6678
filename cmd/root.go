package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/individual-sim/individual/sim/model"
)

var (
	modelPath     string // Path to the YAML model file
	seed          int64  // Seed override, applied only when the flag is set
	timesteps     int64  // Timestep override, applied only when the flag is set
	logLevel      string // Log verbosity level
	outputPath    string // CSV destination for the render table ("" = stdout)
	metricsPath   string // Prometheus text exposition destination ("" = none)
	commitWorkers int    // Stores committed concurrently at the end of each step
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "individual",
	Short: "Discrete-time simulator for individual-based models",
}

// runCmd builds the model from --model and runs it to its horizon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a model and write its rendered time series",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}
		m, err := loadModel(cmd)
		if err != nil {
			return err
		}

		var telemetry *runTelemetry
		if metricsPath != "" {
			telemetry = newRunTelemetry()
			m.Sim.SetStepObserver(telemetry.observe)
		}

		if err := m.Sim.Run(); err != nil {
			return fmt.Errorf("simulation failed: %w", err)
		}

		var out io.Writer = os.Stdout
		summary := io.Writer(os.Stdout)
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("creating output: %w", err)
			}
			defer f.Close()
			out = f
		} else {
			summary = os.Stderr
		}
		m.Sim.Metrics.Print(summary, m.Sim.Population, m.Sim.Horizon)
		if err := m.Sim.Render().WriteCSV(out); err != nil {
			return fmt.Errorf("writing render table: %w", err)
		}
		if telemetry != nil {
			if err := telemetry.write(metricsPath); err != nil {
				return fmt.Errorf("writing metrics: %w", err)
			}
		}
		logrus.Info("Simulation complete.")
		return nil
	},
}

// validateCmd builds the model without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a model file loads and builds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}
		m, err := loadModel(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "model %s is valid: population=%d, timesteps=%d\n",
			modelPath, m.Sim.Population, m.Sim.Horizon)
		return nil
	},
}

func setLogLevel() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// loadModel reads --model and applies the flag overrides that were set.
func loadModel(cmd *cobra.Command) (*model.Model, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}
	spec, err := model.LoadModelSpec(modelPath)
	if err != nil {
		return nil, err
	}
	opts := model.BuildOptions{CommitWorkers: commitWorkers}
	if cmd.Flags().Changed("seed") {
		opts.Seed = &seed
	}
	if cmd.Flags().Changed("timesteps") {
		opts.Timesteps = &timesteps
	}
	logrus.Infof("Loaded model %s: population=%d, variables=%d, processes=%d",
		modelPath, spec.Population, len(spec.Variables), len(spec.Processes))
	return model.Build(spec, opts)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVar(&modelPath, "model", "", "Path to the YAML model file")
		c.Flags().Int64Var(&seed, "seed", 0, "Seed override for the model's random streams")
		c.Flags().Int64Var(&timesteps, "timesteps", 0, "Timestep horizon override")
		c.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().IntVar(&commitWorkers, "commit-workers", 1, "Stores committed concurrently at the end of each step")
	}
	runCmd.Flags().StringVar(&outputPath, "output", "", "CSV file for the rendered time series (default stdout)")
	runCmd.Flags().StringVar(&metricsPath, "metrics-out", "", "File to write run statistics in Prometheus text format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
