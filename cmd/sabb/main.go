// Package main implements the command-line entrypoint described in section
// 6 of the design specification. It parses flags into a config.Config,
// wires the Peer Directory, Manifest Store, Bucketeer, Worker Pool, Blob
// Downloader, and Pipeline Orchestrator, and runs one restore.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/splunkops/sabb/azblob"
	"github.com/splunkops/sabb/bucketeer"
	"github.com/splunkops/sabb/config"
	"github.com/splunkops/sabb/downloader"
	"github.com/splunkops/sabb/filterset"
	"github.com/splunkops/sabb/manifest"
	"github.com/splunkops/sabb/orchestrator"
	"github.com/splunkops/sabb/peers"
	"github.com/splunkops/sabb/rollwriter"
	"github.com/splunkops/sabb/workerpool"
)

// flagOptions mirrors restic's GlobalOptions shape: one flat struct holding
// every flag-bound field, passed by reference to cobra's flag registration
// and converted into a config.Config once parsing succeeds.
type flagOptions struct {
	connectString     string
	destDownloadRoot  string
	threadCount       int
	standalone        bool
	splunkHome        string
	splunkUsername    string
	splunkPassword    string
	clusterMaster     string
	clusterMasterPort int
	logLevel          int

	containerSearchList string
	containerSearchType string
	containerIgnoreList string
	containerIgnoreType string
	blobSearchList      string
	blobSearchType      string
	blobIgnoreList      string
	blobIgnoreType      string

	writeOutFullListOnly bool
	skipToCSVLoad        bool
	testAmount           int

	reportName string
}

var opts flagOptions

var cmdRoot = &cobra.Command{
	Use:   "sabb",
	Short: "Restore Splunk buckets from an Azure Blob archive",
	Long: `
sabb restores Splunk index buckets from an Azure Blob Storage archive onto a
standalone instance or a cooperating indexer cluster, partitioning the
archive across peers and resuming interrupted runs from its manifest.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd.Context())
	},
}

func init() {
	f := cmdRoot.Flags()
	f.StringVar(&opts.connectString, "connect_string", "", "archive credentials/endpoint (required)")
	f.StringVar(&opts.destDownloadRoot, "dest_download_loc_root", "./blob_downloads/", "on-disk download root")
	f.IntVar(&opts.threadCount, "thread_count", 10, "download parallelism")
	f.BoolVar(&opts.standalone, "standalone", false, "skip peer directory lookup")
	f.StringVar(&opts.splunkHome, "splunk_home", "", "local Splunk instance root, for instance.cfg/server.conf discovery")
	f.StringVar(&opts.splunkUsername, "splunk_username", "", "Splunk cluster manager username")
	f.StringVar(&opts.splunkPassword, "splunk_password", "", "Splunk cluster manager password")
	f.StringVar(&opts.clusterMaster, "cluster_master", "", "cluster manager host or URI")
	f.IntVar(&opts.clusterMasterPort, "cluster_master_port", 8089, "cluster manager management port")
	f.IntVar(&opts.logLevel, "log_level", 2, "log verbosity, 1 (error) to 3 (debug)")

	f.StringVar(&opts.containerSearchList, "container_search_list", "", "comma-separated container search list")
	f.StringVar(&opts.containerSearchType, "container_search_list_type", "substring", "exact|substring")
	f.StringVar(&opts.containerIgnoreList, "container_ignore_list", "", "comma-separated container ignore list")
	f.StringVar(&opts.containerIgnoreType, "container_ignore_list_type", "substring", "exact|substring")
	f.StringVar(&opts.blobSearchList, "blob_search_list", "", "comma-separated blob key search list")
	f.StringVar(&opts.blobSearchType, "blob_search_list_type", "substring", "exact|substring")
	f.StringVar(&opts.blobIgnoreList, "blob_ignore_list", "", "comma-separated blob key ignore list")
	f.StringVar(&opts.blobIgnoreType, "blob_ignore_list_type", "substring", "exact|substring")

	f.BoolVar(&opts.writeOutFullListOnly, "write_out_full_list_only", false, "run the planner only; do not download")
	f.BoolVar(&opts.skipToCSVLoad, "skip_to_csv_load", false, "skip archive listing; use the existing manifest as the plan")
	f.IntVar(&opts.testAmount, "test_amount", 0, "stop listing each container after N entries (debug), 0 = unlimited")

	f.StringVar(&opts.reportName, "report_name", "sabb", "manifest/log file base name")

	// --file is consumed by spliceFileFlag before cobra ever sees it; it is
	// registered here only so --help documents it and unknown-flag parsing
	// does not reject it if it slips through unsplit.
	f.String("file", "", "read additional flags from the given path")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	args, err := spliceFileFlag(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sabb: %v\n", err)
		os.Exit(1)
	}
	cmdRoot.SetArgs(args)

	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sabb: %v\n", err)
		os.Exit(1)
	}
}

// spliceFileFlag implements --file (section 6): it scans args for --file
// (or --file=path), reads the referenced file's whitespace-separated
// tokens, and splices them into the argument list before cobra parses it.
// Grounded on restic's global.go pattern of rewriting the effective
// argument list ahead of flag parsing, adapted here to a file source.
func spliceFileFlag(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var path string
		switch {
		case arg == "--file":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--file requires a path argument")
			}
			path = args[i+1]
			i++
		case strings.HasPrefix(arg, "--file="):
			path = strings.TrimPrefix(arg, "--file=")
		default:
			out = append(out, arg)
			continue
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read --file %s: %w", path, err)
		}
		out = append(out, strings.Fields(string(contents))...)
	}
	return out, nil
}

func runRestore(ctx context.Context) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, rw, err := buildLogger(cfg, opts.reportName)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if rw != nil {
		defer rw.Close()
	}

	directory, err := buildDirectory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to resolve peer directory: %w", err)
	}

	store, err := manifest.New("./csv_lists", log)
	if err != nil {
		return fmt.Errorf("failed to initialize manifest store: %w", err)
	}

	archive, err := azblob.NewFromConnectionString(cfg.ConnectString)
	if err != nil {
		return fmt.Errorf("failed to initialize archive client: %w", err)
	}

	bkt := bucketeer.New(store, log)
	dl := downloader.New(archive, log)
	pool := workerpool.New(cfg.ThreadCount, log)

	orch := orchestrator.New(&cfg, directory, bkt, store, archive, dl, pool, log)

	log.Info().Bool("standalone", cfg.Standalone).Bool("skip_to_csv_load", cfg.SkipToCSVLoad).Msg("starting restore run")
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("restore run failed: %w", err)
	}
	log.Info().Msg("restore run complete")
	return nil
}

// buildConfig converts the parsed flags into a config.Config and validates
// it, per section 6.
func buildConfig(o flagOptions) (config.Config, error) {
	cfg := config.Default()
	cfg.ConnectString = o.connectString
	cfg.DestDownloadRoot = o.destDownloadRoot
	cfg.ThreadCount = o.threadCount
	cfg.Standalone = o.standalone
	cfg.SplunkHome = o.splunkHome
	cfg.SplunkUsername = o.splunkUsername
	cfg.SplunkPassword = o.splunkPassword
	cfg.ClusterMaster = o.clusterMaster
	cfg.ClusterMasterPort = o.clusterMasterPort
	cfg.LogLevel = o.logLevel
	cfg.WriteOutFullListOnly = o.writeOutFullListOnly
	cfg.SkipToCSVLoad = o.skipToCSVLoad
	cfg.TestAmount = o.testAmount

	containerMode, err := parseMatchMode(o.containerSearchType)
	if err != nil {
		return cfg, err
	}
	containerIgnoreMode, err := parseMatchMode(o.containerIgnoreType)
	if err != nil {
		return cfg, err
	}
	blobMode, err := parseMatchMode(o.blobSearchType)
	if err != nil {
		return cfg, err
	}
	blobIgnoreMode, err := parseMatchMode(o.blobIgnoreType)
	if err != nil {
		return cfg, err
	}

	cfg.ContainerSearch = filterset.Filter{
		Search: filterset.List{Entries: splitList(o.containerSearchList), Mode: containerMode},
		Ignore: filterset.List{Entries: splitList(o.containerIgnoreList), Mode: containerIgnoreMode},
	}
	cfg.BlobSearch = filterset.Filter{
		Search: filterset.List{Entries: splitList(o.blobSearchList), Mode: blobMode},
		Ignore: filterset.List{Entries: splitList(o.blobIgnoreList), Mode: blobIgnoreMode},
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMatchMode(raw string) (filterset.MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "substring":
		return filterset.Substring, nil
	case "exact":
		return filterset.Exact, nil
	default:
		return filterset.Substring, fmt.Errorf("invalid match type %q, want exact or substring", raw)
	}
}

// buildLogger constructs the zerolog.Logger described in section 10.1: a
// human-readable console writer when stdout is a terminal, otherwise plain
// JSON, tee'd through a rollwriter.Writer rolling at 50 MB with a 10 day
// retention under ./logs.
func buildLogger(cfg config.Config, reportName string) (zerolog.Logger, *rollwriter.Writer, error) {
	rw, err := rollwriter.New("./logs", reportName)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	var out io.Writer = rw
	if isatty.IsTerminal(os.Stdout.Fd()) {
		out = zerolog.MultiLevelWriter(rw, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	log := zerolog.New(out).With().Timestamp().Logger().Level(logLevelToZerolog(cfg.LogLevel))
	return log, rw, nil
}

func logLevelToZerolog(level int) zerolog.Level {
	switch level {
	case 1:
		return zerolog.ErrorLevel
	case 3:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// buildDirectory constructs the Peer Directory, resolving the local peer
// GUID from splunk_home, and the cluster master from splunk_home when
// --cluster_master was not given, per section 6's three-call protocol.
func buildDirectory(cfg config.Config, log zerolog.Logger) (*peers.Directory, error) {
	if cfg.Standalone {
		localID := ""
		if cfg.SplunkHome != "" {
			guid, err := peers.FindLocalGUID(cfg.SplunkHome)
			if err == nil {
				localID = guid
			}
		}
		if localID == "" {
			localID = "standalone"
		}
		return peers.NewStandalone(localID, log), nil
	}

	localID := ""
	if cfg.SplunkHome != "" {
		guid, err := peers.FindLocalGUID(cfg.SplunkHome)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve local peer id: %w", err)
		}
		localID = guid
	}
	if localID == "" {
		return nil, fmt.Errorf("clustered mode requires --splunk_home to resolve the local peer id")
	}

	clusterMaster := cfg.ClusterMaster
	port := cfg.ClusterMasterPort
	if clusterMaster == "" {
		if cfg.SplunkHome == "" {
			return nil, fmt.Errorf("clustered mode requires --cluster_master or --splunk_home")
		}
		uri, discoveredPort, err := peers.FindClusterMaster(cfg.SplunkHome)
		if err != nil {
			return nil, fmt.Errorf("failed to discover cluster master: %w", err)
		}
		clusterMaster = uri
		port = discoveredPort
	}

	return peers.NewClustered(localID, clusterMaster, port, cfg.SplunkUsername, cfg.SplunkPassword, log), nil
}
