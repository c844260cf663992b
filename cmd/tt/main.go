package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tt-go/internal/app"
	"tt-go/internal/capture"
	"tt-go/internal/config"
	"tt-go/internal/track"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TrackerApp. The caller must defer a.Close().
func newApp(opts app.Options) (*app.TrackerApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTrackerApp(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// locationFromFlags builds a Location from the lat/lon/accuracy flags.
// Returns nil when no coordinates were given.
func locationFromFlags(cmd *cobra.Command) (*track.Location, error) {
	if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") {
		return nil, nil
	}
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	acc, _ := cmd.Flags().GetFloat64("accuracy")

	loc := track.Location{Latitude: lat, Longitude: lon, Accuracy: acc}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &loc, nil
}

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Workforce time and location tracker",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init EMPLOYEE_ID",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new device ID
		deviceID := uuid.New().String()

		cfg := config.NewConfig(deviceID, args[0], defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID:   %s\n", deviceID)
		fmt.Printf("Employee ID: %s\n", args[0])
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:   %s\n", cfg.DeviceID)
		fmt.Printf("Employee ID: %s\n", cfg.EmployeeID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Remote:      %s (%s)\n", cfg.Remote.Type, cfg.Remote.BaseURL)
		return nil
	},
}

// clock-in command
var clockInCmd = &cobra.Command{
	Use:   "clock-in",
	Short: "Start a shift",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := locationFromFlags(cmd)
		if err != nil {
			return err
		}
		if loc == nil {
			return fmt.Errorf("clock-in requires --lat and --lon")
		}

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		shift, err := a.ClockIn(cmd.Context(), *loc)
		if err != nil {
			return err
		}

		fmt.Printf("Clocked in at %s\n", shift.ClockInAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Shift ID: %s\n", shift.ID)
		return nil
	},
}

// clock-out command
var clockOutCmd = &cobra.Command{
	Use:   "clock-out",
	Short: "End the active shift",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := locationFromFlags(cmd)
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		shift, err := a.ClockOut(cmd.Context(), loc, note)
		if err != nil {
			return err
		}

		duration := shift.ClockOutAt.Sub(shift.ClockInAt).Truncate(time.Second)
		fmt.Printf("Clocked out at %s (shift length %s)\n",
			shift.ClockOutAt.Format("2006-01-02 15:04:05"), duration)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View capture and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Status()
		if err != nil {
			return err
		}

		if report.ActiveShift != nil {
			fmt.Printf("Shift:       active since %s (%s)\n",
				report.ActiveShift.ClockInAt.Format("2006-01-02 15:04:05"),
				report.ActiveShift.ID)
		} else {
			fmt.Println("Shift:       none active")
		}

		fmt.Printf("Pending:     %d shifts, %d gaps, %d samples, %d diagnostics\n",
			report.Pending.Shifts, report.Pending.Gaps,
			report.Pending.Samples, report.Pending.Diagnostics)

		if report.Cursor.LastSuccessAt != nil {
			fmt.Printf("Last sync:   %s\n", report.Cursor.LastSuccessAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Last sync:   never")
		}
		if report.Cursor.ConsecutiveFailures > 0 {
			fmt.Printf("Sync health: %d consecutive failures, next attempt in %s\n",
				report.Cursor.ConsecutiveFailures, report.Cursor.CurrentBackoff)
		}

		if report.Quarantine.Pending > 0 {
			fmt.Printf("Quarantine:  %d record(s) awaiting review\n", report.Quarantine.Pending)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture and sync agent",
	Long: `Run the foreground agent: consumes positions, detects signal gaps,
enforces shift boundaries, and syncs to the backend on schedule.

With --stream, positions are read as line-delimited JSON messages from the
given file ("-" for stdin), typically a pipe from a GPS bridge process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		streamPath, _ := cmd.Flags().GetString("stream")

		opts := app.Options{}
		if streamPath != "" {
			r := os.Stdin
			if streamPath != "-" {
				f, err := os.Open(streamPath)
				if err != nil {
					return fmt.Errorf("opening stream: %w", err)
				}
				defer f.Close()
				r = f
			}
			opts.Provider = capture.NewStreamProvider(r)
		}

		a, err := newApp(opts)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Agent running. Ctrl-C to stop.")
		return a.Run(ctx)
	},
}

// capture command
var captureCmd = &cobra.Command{
	Use:   "capture SHIFT_ID",
	Short: "Run the capture loop standalone, writing messages to stdout",
	Long: `Run the location capture loop as its own process for the given
shift ID. Messages go to stdout as line-delimited JSON, the same protocol
"tt run --stream" consumes on the other end of the pipe. The store is never
touched from this process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		var provider capture.Provider = capture.UnavailableProvider{}
		if streamPath, _ := cmd.Flags().GetString("stream"); streamPath != "" {
			r := os.Stdin
			if streamPath != "-" {
				f, err := os.Open(streamPath)
				if err != nil {
					return fmt.Errorf("opening stream: %w", err)
				}
				defer f.Close()
				r = f
			}
			provider = capture.NewStreamProvider(r)
		}

		svc := capture.NewService(provider, nil, track.RealClock{}, app.CaptureConfig(cfg.Capture))
		if err := svc.Start(args[0]); err != nil {
			return fmt.Errorf("starting capture: %w", err)
		}
		defer svc.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- capture.Forward(svc.Messages(), os.Stdout) }()

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		}
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.SyncNow(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Sync completed in %s\n", report.Duration.Truncate(time.Millisecond))
		printTally := func(name string, t track.CategoryTally) {
			if t.Accepted+t.Duplicate+t.Rejected == 0 {
				return
			}
			fmt.Printf("  %-12s %d accepted, %d duplicate, %d rejected (%d quarantined)\n",
				name, t.Accepted, t.Duplicate, t.Rejected, t.Quarantined)
		}
		printTally("shifts:", report.Shifts)
		printTally("gaps:", report.Gaps)
		printTally("samples:", report.Samples)
		printTally("diagnostics:", report.Diagnostics)
		if report.Reconciled > 0 {
			fmt.Printf("  %d shift(s) closed by server\n", report.Reconciled)
		}
		return nil
	},
}

// quarantine command
var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Review records the server rejected",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined records",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordType, _ := cmd.Flags().GetString("type")

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.Quarantine().List(track.RecordType(recordType))
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("Quarantine is empty.")
			return nil
		}

		for _, r := range records {
			fmt.Printf("%s  %-15s  %-9s  %s  %s: %s\n",
				r.ID,
				r.RecordType,
				r.ReviewStatus,
				r.QuarantinedAt.Format("2006-01-02 15:04:05"),
				r.ErrorCode,
				r.ErrorMessage,
			)
		}
		return nil
	},
}

var quarantineResolveCmd = &cobra.Command{
	Use:   "resolve ID",
	Short: "Mark a quarantined record as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Quarantine().Resolve(args[0], note); err != nil {
			return err
		}
		fmt.Printf("Resolved %s\n", args[0])
		return nil
	},
}

var quarantineDiscardCmd = &cobra.Command{
	Use:   "discard ID",
	Short: "Mark a quarantined record as discarded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Quarantine().Discard(args[0], note); err != nil {
			return err
		}
		fmt.Printf("Discarded %s\n", args[0])
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export an encrypted snapshot of the local store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if len(passphrase) == 0 {
			return fmt.Errorf("passphrase must not be empty")
		}

		a, err := newApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Export(args[0], string(passphrase)); err != nil {
			return err
		}
		fmt.Printf("Exported encrypted snapshot to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// location flags shared by clock-in and clock-out
	for _, c := range []*cobra.Command{clockInCmd, clockOutCmd} {
		c.Flags().Float64("lat", 0, "Latitude")
		c.Flags().Float64("lon", 0, "Longitude")
		c.Flags().Float64("accuracy", 10, "Reported accuracy in meters")
	}
	clockOutCmd.Flags().String("note", "", "Optional clock-out note")

	runCmd.Flags().String("stream", "", "Read positions as line-delimited JSON from FILE (\"-\" for stdin)")
	captureCmd.Flags().String("stream", "", "Read positions as line-delimited JSON from FILE (\"-\" for stdin)")

	// quarantine subcommands
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineListCmd.Flags().String("type", "", "Filter by record type")
	quarantineCmd.AddCommand(quarantineResolveCmd)
	quarantineResolveCmd.Flags().String("note", "", "Review note")
	quarantineCmd.AddCommand(quarantineDiscardCmd)
	quarantineDiscardCmd.Flags().String("note", "", "Review note")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(clockInCmd)
	rootCmd.AddCommand(clockOutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(exportCmd)
}
