package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDownloadCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every indexed file",
		Long: `Download fetches every file in the index into the download directory.
Files which share a name but not their content are saved as name.checksum.
Without --hash-algo the MD5 index is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runDownload(cmd)
		},
	}
	cmd.Flags().StringVar(&o.algo, "hash-algo", "", algoHelp()+" (default: MD5)")
	cmd.Flags().StringVar(&o.dest, "dest", "", "directory to download into (default: DOWNLOAD under the root)")
	return cmd
}

func (o *options) runDownload(cmd *cobra.Command) error {
	cfg, e, err := o.setup(cmd)
	defer o.close()
	if err != nil {
		return err
	}
	algo := cfg.DownloadAlgorithm
	e.Logger.Printf("%s: downloading into %s", algo, cfg.DownloadDir())
	result, err := e.Download(algo, cfg.DownloadDir())
	if err != nil {
		report(e, "download", algo, err)
		return fmt.Errorf("download failed for %s", algo)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, %d fetched, %d from cache, %d failed\n",
		strings.ToUpper(algo), result.Records, result.Fetched, result.CacheHits, result.Failed)
	return nil
}
