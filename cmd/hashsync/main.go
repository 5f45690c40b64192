package main

// The hashsync tool keeps a directory of test data files in sync with a
// content addressed remote store, such as the releases of a GitHub
// repository. Files are published under their checksum, and an index
// file per hash algorithm maps checksums back to file names.
//
// hashsync upload copies new files from the INCOMING directory to the
// remote. hashsync download fetches every indexed file into DOWNLOAD.

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ndlib/hashsync/config"
	"github.com/ndlib/hashsync/hashing"
	"github.com/ndlib/hashsync/reconcile"
	"github.com/ndlib/hashsync/remote"
)

// options holds the command line flags. Flags which are not given leave the
// configuration alone.
type options struct {
	configFile string
	repo       string
	token      string
	remote     string
	root       string
	layout     string
	logFile    string
	verbose    bool
	algo       string
	incoming   string
	dest       string

	closers []io.Closer
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		if strings.HasPrefix(err.Error(), "unknown command") {
			root.Help()
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "hashsync",
		Short: "Synchronize files with a content addressed remote store",
		Long: `hashsync publishes files under their checksum and keeps an index per
hash algorithm mapping checksums to file names and dates.

  upload    adds every file in the incoming directory to the remote
  download  fetches every indexed file into the download directory

The GitHub token is taken from --github-token, the configuration file, or
the GITHUB_TOKEN environment variable, in that order.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Help()
			return fmt.Errorf("no operation given")
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configFile, "config", "", "TOML configuration file")
	pf.StringVar(&o.repo, "github-repo", "", "GitHub repository (default: Slicer/SlicerTestingData)")
	pf.StringVar(&o.token, "github-token", "", "GitHub personal access token (default: $GITHUB_TOKEN)")
	pf.StringVar(&o.remote, "remote", "", "remote store location: github:, s3://host/bucket/prefix, file:/path or memory:")
	pf.StringVar(&o.root, "root", "", "working directory holding the cache (default: current directory)")
	pf.StringVar(&o.layout, "layout", "", "index rendering: table or list")
	pf.StringVar(&o.logFile, "log-file", "", "also write the log to this file, rotating it when large")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "log every file handled")

	root.AddCommand(newUploadCmd(o), newDownloadCmd(o))
	return root
}

// setup resolves the configuration, applying any flags given over the
// configuration file, and builds the engine.
func (o *options) setup(cmd *cobra.Command) (config.Config, *reconcile.Engine, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return cfg, nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("github-repo") {
		cfg.Repo = o.repo
	}
	if flags.Changed("github-token") {
		cfg.Token = o.token
	}
	if flags.Changed("remote") {
		cfg.Remote = o.remote
	}
	if flags.Changed("root") {
		cfg.Root = o.root
	}
	if flags.Changed("layout") {
		cfg.Layout = o.layout
	}
	if flags.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if flags.Changed("incoming") {
		cfg.Incoming = o.incoming
	}
	if flags.Changed("dest") {
		cfg.Download = o.dest
	}
	if flags.Changed("hash-algo") {
		cfg.Algorithms = []string{o.algo}
		cfg.DownloadAlgorithm = o.algo
	}
	err = cfg.Validate()
	if err != nil {
		return cfg, nil, err
	}

	var out io.Writer = cmd.ErrOrStderr()
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
		}
		o.closers = append(o.closers, lj)
		out = io.MultiWriter(out, lj)
	}
	logger := log.New(out, "", log.LstdFlags)

	if cfg.SentryDSN != "" {
		err = raven.SetDSN(cfg.SentryDSN)
		if err != nil {
			logger.Println("sentry:", err)
		}
	}

	r, err := remote.Open(cfg.Remote, cfg.Credentials())
	if err != nil {
		return cfg, nil, err
	}
	layout, _ := cfg.ParsedLayout()
	e := &reconcile.Engine{
		Remote:  r,
		Root:    cfg.Root,
		Repo:    cfg.Repo,
		Layout:  layout,
		Logger:  logger,
		Verbose: o.verbose,
	}
	return cfg, e, nil
}

func (o *options) close() {
	for _, c := range o.closers {
		c.Close()
	}
	o.closers = nil
}

// report logs a failed pass and sends it to sentry.
func report(e *reconcile.Engine, op, algo string, err error) {
	e.Logger.Printf("%s: %s failed: %s", algo, op, err)
	raven.CaptureError(err, map[string]string{"op": op, "algorithm": algo})
}

func algoHelp() string {
	return "hash algorithm, one of " + strings.Join(hashing.Names(), ", ")
}
