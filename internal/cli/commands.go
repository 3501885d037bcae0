// Package cli implements the carewatch subcommands
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/carewatch/internal/adherence"
	"github.com/gmsas95/carewatch/internal/app"
	"github.com/gmsas95/carewatch/internal/config"
	"github.com/gmsas95/carewatch/internal/lifecycle"
	"github.com/gmsas95/carewatch/internal/logging"
	"github.com/gmsas95/carewatch/internal/models"
	"github.com/gmsas95/carewatch/internal/store"
)

var Version = "dev"

// commandTimeout bounds one-shot backend commands
const commandTimeout = 30 * time.Second

// globalFlags are accepted by every command
type globalFlags struct {
	configPath string
	dataDir    string
	json       bool
}

func newFlagSet(name string, g *globalFlags, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&g.configPath, "config", "", "Path to config file")
	fs.StringVar(&g.dataDir, "data", "", "Path to data directory")
	fs.BoolVar(&g.json, "json", false, "Print JSON even on a terminal")
	return fs
}

// wantJSON prints JSON when asked to or when stdout is not a terminal
func wantJSON(g globalFlags, out io.Writer) bool {
	if g.json {
		return true
	}
	f, ok := out.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

// Run dispatches args to a command and returns the process exit code
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && (isCommand(args[0]) || len(args[0]) == 0 || args[0][0] != '-') {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve", "server":
		err = HandleServeCommand(args, stderr)
	case "status":
		err = HandleStatusCommand(args, stdout)
	case "adherence":
		err = HandleAdherenceCommand(args, stdout)
	case "take-dose":
		err = HandleTakeDoseCommand(args, stdout)
	case "config":
		err = HandleConfigCommand(args, stdout)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "carewatch version %s\n", Version)
	case "help", "--help", "-h":
		PrintExtendedHelp(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		PrintExtendedHelp(stderr)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func isCommand(arg string) bool {
	switch arg {
	case "--version", "-v", "--help", "-h":
		return true
	}
	return false
}

// openApp loads config and builds the services a one-shot command needs.
// A store that cannot be opened (for example locked by a running server)
// only costs the KV token; the static token is used instead.
func openApp(g globalFlags) (*app.App, func(), error) {
	cfg, err := config.Load(g.configPath, g.dataDir)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.New(cfg.Storage)
	if err != nil {
		logger.Warn("Store unavailable, using configured token", zap.Error(err))
		st = nil
	}

	application := app.New(cfg, st, logger, Version)
	application.ConfigPath = g.configPath
	application.DataDir = g.dataDir
	if err := application.Setup(); err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if st != nil {
			_ = st.Close()
		}
		_ = logger.Sync()
	}
	return application, cleanup, nil
}

// HandleServeCommand runs the monitor, reminder engine and HTTP API
func HandleServeCommand(args []string, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("serve", &g, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(g.configPath, g.dataDir)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting carewatch", zap.String("version", Version))

	st, err := store.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	application := app.New(cfg, st, logger, Version)
	application.ConfigPath = g.configPath
	application.DataDir = g.dataDir
	return application.RunServer()
}

// HandleStatusCommand lists appointments with the status the monitor would derive
func HandleStatusCommand(args []string, stdout io.Writer) error {
	var g globalFlags
	fs := newFlagSet("status", &g, stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, cleanup, err := openApp(g)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	appts, err := application.Backend.ListAppointments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list appointments: %w", err)
	}

	asJSON := wantJSON(g, stdout)
	if !asJSON {
		fmt.Fprintf(stdout, "Backend: %s (token %s)\n\n",
			application.Config.Backend.BaseURL, maskToken(application.Config.Backend.Token))
	}
	return renderAppointments(stdout, appts, application.Clock.Now(), asJSON)
}

// HandleAdherenceCommand prints a patient's adherence snapshot
func HandleAdherenceCommand(args []string, stdout io.Writer) error {
	var g globalFlags
	var patientID int64
	fs := newFlagSet("adherence", &g, stdout)
	fs.Int64Var(&patientID, "patient", 0, "Patient ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, cleanup, err := openApp(g)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	snap, err := application.Doses.Adherence(ctx, patientID)
	if err != nil {
		return err
	}
	return renderSnapshot(stdout, patientID, snap, wantJSON(g, stdout))
}

// HandleTakeDoseCommand records one dose and prints the refreshed snapshot
func HandleTakeDoseCommand(args []string, stdout io.Writer) error {
	var g globalFlags
	var patientID, prescriptionID int64
	fs := newFlagSet("take-dose", &g, stdout)
	fs.Int64Var(&patientID, "patient", 0, "Patient ID")
	fs.Int64Var(&prescriptionID, "prescription", 0, "Prescription ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	application, cleanup, err := openApp(g)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	snap, err := application.Doses.MarkTaken(ctx, prescriptionID, patientID)
	if err != nil {
		return err
	}
	return renderSnapshot(stdout, patientID, snap, wantJSON(g, stdout))
}

// HandleConfigCommand prints the effective configuration with secrets masked
func HandleConfigCommand(args []string, stdout io.Writer) error {
	var g globalFlags
	fs := newFlagSet("config", &g, stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(g.configPath, g.dataDir)
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "", "show":
		redacted := cfg.Redacted()
		if g.json {
			return writeJSON(stdout, redacted)
		}
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(redacted)
	case "path":
		path := g.configPath
		if path == "" {
			path = config.DefaultPath(cfg.Storage.DataDir)
		}
		fmt.Fprintln(stdout, path)
		return nil
	default:
		PrintConfigHelp(stdout)
		return fmt.Errorf("unknown config subcommand %q", fs.Arg(0))
	}
}

func renderAppointments(w io.Writer, appts []models.Appointment, now time.Time, asJSON bool) error {
	sorted := append([]models.Appointment(nil), appts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScheduledTime.Before(sorted[j].ScheduledTime)
	})

	if asJSON {
		type row struct {
			models.Appointment
			DerivedStatus models.Status `json:"derivedStatus"`
			PendingChange bool          `json:"pendingChange"`
		}
		rows := make([]row, 0, len(sorted))
		for _, a := range sorted {
			target, changed := lifecycle.Target(a, now)
			rows = append(rows, row{Appointment: a, DerivedStatus: target, PendingChange: changed})
		}
		return writeJSON(w, rows)
	}

	if len(sorted) == 0 {
		fmt.Fprintln(w, "No appointments found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATIENT\tSCHEDULED\tSTATUS\tDERIVED\tIN")
	for _, a := range sorted {
		target, changed := lifecycle.Target(a, now)
		derived := string(target)
		if changed {
			derived += " *"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			a.AppointmentID,
			a.PatientID,
			a.ScheduledTime.Local().Format("2006-01-02 15:04"),
			a.Status,
			derived,
			formatDelta(lifecycle.DeltaMinutes(a.ScheduledTime, now)),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "\n* the monitor will persist this status on its next tick")
	return nil
}

func renderSnapshot(w io.Writer, patientID int64, snap adherence.Snapshot, asJSON bool) error {
	if asJSON {
		return writeJSON(w, snap)
	}
	fmt.Fprintf(w, "Patient #%d\n", patientID)
	fmt.Fprintf(w, "  Adherence: %d%%\n", snap.AdherenceRate)
	fmt.Fprintf(w, "  Doses:     %d of %d taken\n", snap.TakenDoses, snap.TotalDoses)
	return nil
}

// formatDelta renders a minute offset as "in 2h5m" or "45m ago"
func formatDelta(minutes int64) string {
	d := time.Duration(minutes) * time.Minute
	switch {
	case minutes == 0:
		return "now"
	case minutes > 0:
		return "in " + shortDuration(d)
	default:
		return shortDuration(-d) + " ago"
	}
}

func shortDuration(d time.Duration) string {
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
