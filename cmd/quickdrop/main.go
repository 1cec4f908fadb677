package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"quickdrop/internal/client"
	"quickdrop/internal/core"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string

	rootCmd := &cobra.Command{
		Use:          "quickdrop",
		Short:        "Share files through a quickdrop server",
		SilenceUsage: true,
	}

	serverDefault := defaultServer
	if v := os.Getenv("QUICKDROP_URL"); v != "" {
		serverDefault = v
	}
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", serverDefault,
		"quickdrop server URL (or set QUICKDROP_URL)")

	rootCmd.AddCommand(newSendCmd(&server), newGetCmd(&server))
	return rootCmd
}

func newSendCmd(server *string) *cobra.Command {
	var opts client.SendOptions

	cmd := &cobra.Command{
		Use:   "send <path>...",
		Short: "Upload files and directories as one drop",
		Long: `Upload files as a single drop and print its code.

Directories are walked recursively and flattened: only file names are kept,
and clashing names get a numeric suffix on the server.

Examples:
  quickdrop send report.pdf photos/
  quickdrop send --keep-longer build.tar.gz`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := core.ParseArgs(args)
			if err != nil {
				return err
			}
			files, err := core.CollectFiles(parsed)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files found in %s", strings.Join(args, ", "))
			}

			var total int64
			for _, f := range files {
				total += f.Size
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %d file(s), %s\n", len(files), humanize.Bytes(uint64(total)))

			res, err := client.New(*server, nil).Send(cmd.Context(), files, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Code:    %s\n", res.Code)
			fmt.Fprintf(out, "URL:     %s\n", res.DownloadURL)
			fmt.Fprintf(out, "Expires: %s (%s)\n", res.ExpiresAt.Local().Format("2006-01-02 15:04"), humanize.Time(res.ExpiresAt))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.KeepLonger, "keep-longer", false, "use the extended retention")
	cmd.Flags().Float64Var(&opts.TTLHours, "ttl-hours", 0, "retention in hours (capped by the server)")
	return cmd
}

func newGetCmd(server *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <code>",
		Short: "Download a drop as a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			if output == "" {
				output = code + ".zip"
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}

			n, err := client.New(*server, nil).Get(cmd.Context(), code, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return err
			}

			abs, _ := filepath.Abs(output)
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", humanize.Bytes(uint64(n)), abs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <CODE>.zip)")
	return cmd
}
