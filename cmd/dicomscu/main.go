package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caio-sobreiro/dicomscu/assoc"
	dicomerrors "github.com/caio-sobreiro/dicomscu/errors"
	"github.com/caio-sobreiro/dicomscu/scu"
)

const usage = `Usage: dicomscu [flags] <command> [args]

Commands:
  echo            verify connectivity with a C-ECHO
  store <files>   send DICOM Part 10 files with C-STORE
  get             retrieve instances with C-GET

Flags:
`

func main() {
	flags := flag.NewFlagSet("dicomscu", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to YAML config file")
	host := flags.String("host", "", "Remote host")
	port := flags.Int("port", 0, "Remote port")
	callingAE := flags.String("calling", "", "Calling AE title")
	calledAE := flags.String("called", "", "Called AE title")
	maxPDU := flags.Uint("max-pdu", 0, "Maximum PDU length to announce")
	timeout := flags.Duration("timeout", 0, "PDU inactivity timeout")
	parallel := flags.Int("parallel", 0, "Parallel associations for store")
	outputDir := flags.String("out", "", "Output directory for retrieved instances")
	studyUID := flags.String("study", "", "Study instance UID to retrieve")
	seriesUID := flags.String("series", "", "Series instance UID to retrieve")
	sopUID := flags.String("sop", "", "SOP instance UID to retrieve")
	verbose := flags.Bool("verbose", false, "Debug logging")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dicomscu:", err)
		os.Exit(1)
	}

	// Flags set on the command line win over the config file.
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			config.Host = *host
		case "port":
			config.Port = *port
		case "calling":
			config.CallingAETitle = *callingAE
		case "called":
			config.CalledAETitle = *calledAE
		case "max-pdu":
			config.MaxPDULength = uint32(*maxPDU)
		case "timeout":
			config.PDUTimeout = *timeout
		case "parallel":
			config.Parallel = *parallel
		case "out":
			config.OutputDir = *outputDir
		case "verbose":
			config.Verbose = *verbose
		}
	})

	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if config.Host == "" {
		fmt.Fprintln(os.Stderr, "dicomscu: remote host required (-host or config file)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "echo":
		err = runEcho(ctx, config, logger)
	case "store":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "dicomscu: store requires at least one file")
			os.Exit(2)
		}
		err = runStore(ctx, config, logger, args[1:])
	case "get":
		query := retrieveQuery{StudyUID: *studyUID, SeriesUID: *seriesUID, SOPInstanceUID: *sopUID}
		err = runGet(ctx, config, logger, query)
	default:
		fmt.Fprintf(os.Stderr, "dicomscu: unknown command %q\n", args[0])
		flags.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func clientConfig(config *Config, logger *slog.Logger) scu.Config {
	return scu.Config{
		CallingAETitle: config.CallingAETitle,
		CalledAETitle:  config.CalledAETitle,
		MaxPDULength:   config.MaxPDULength,
		ConnectTimeout: config.ConnectTimeout,
		PDUTimeout:     config.PDUTimeout,
		Logger:         logger,
	}
}

// logHandler reports lifecycle events through slog.
type logHandler struct {
	scu.NopHandler
	logger *slog.Logger
}

func (h *logHandler) OnAssociationAccepted(a *assoc.Association) {
	accepted := 0
	for _, ctx := range a.PresentationContexts() {
		if ctx.Result() == assoc.Accepted {
			accepted++
		}
	}
	h.logger.Debug("Association accepted",
		"contexts_proposed", len(a.PresentationContexts()),
		"contexts_accepted", accepted)
}

func (h *logHandler) OnAssociationRejected(result dicomerrors.AssociationRejectResult, source dicomerrors.AssociationRejectSource, reason dicomerrors.AssociationRejectReason) {
	h.logger.Error("Association rejected",
		"result", result.String(),
		"source", source.String(),
		"reason", reason.String())
}

func (h *logHandler) OnNetworkError(err error) {
	h.logger.Error("Connection failed", "error", err)
}

func statusString(status uint16) string {
	if status == 0 {
		return "success"
	}
	return fmt.Sprintf("0x%04X", status)
}
