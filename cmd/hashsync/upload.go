package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUploadCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload new files in the incoming directory",
		Long: `Upload adds every file in the incoming directory to the index of each
hash algorithm and sends the content the remote does not have yet. Without
--hash-algo both MD5 and SHA256 are used, one after the other.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runUpload(cmd)
		},
	}
	cmd.Flags().StringVar(&o.algo, "hash-algo", "", algoHelp()+" (default: MD5 and SHA256)")
	cmd.Flags().StringVar(&o.incoming, "incoming", "", "directory of files to upload (default: INCOMING under the root)")
	return cmd
}

func (o *options) runUpload(cmd *cobra.Command) error {
	cfg, e, err := o.setup(cmd)
	defer o.close()
	if err != nil {
		return err
	}
	var failed []string
	for _, algo := range cfg.Algorithms {
		e.Logger.Printf("%s: uploading from %s", algo, cfg.IncomingDir())
		result, err := e.Upload(algo, cfg.IncomingDir())
		if err != nil {
			report(e, "upload", algo, err)
			failed = append(failed, algo)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, %d added, %d uploaded, %d already present, %d partial removed\n",
			strings.ToUpper(algo), result.Records, result.Added, result.Uploaded, result.Skipped, result.PartialsRemoved)
	}
	if len(failed) > 0 {
		return fmt.Errorf("upload failed for %s", strings.Join(failed, ", "))
	}
	return nil
}
