// Command remote-client inspects and replays content-addressed build
// actions stored in a remote cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remoteclient/internal/action"
	"remoteclient/internal/cas"
	"remoteclient/internal/config"
	"remoteclient/internal/digest"
	"remoteclient/internal/logging"
	"remoteclient/internal/render"
	"remoteclient/internal/run"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "remote-client",
	Short: "Inspect and replay actions from a remote build cache",
	Long: `remote-client talks to a Bazel-compatible remote cache and presents
its content-addressed metadata: directory trees, commands, actions and
action results. It can also set up a cached action locally and print
the docker invocation that replays it.`,
	SilenceUsage: true,
}

var (
	configFile   string
	remoteTarget string
	instanceName string
	useTLS       bool
	useZstd      bool
	diskCacheDir string
	logLevel     string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default remote-client.yaml in . or $HOME)")
	flags.StringVar(&remoteTarget, "remote", "", "host:port of the remote cache")
	flags.StringVar(&instanceName, "instance-name", "", "remote instance name prefix")
	flags.BoolVar(&useTLS, "tls", false, "use TLS for the cache connection")
	flags.BoolVar(&useZstd, "zstd", false, "fetch blobs with zstd compression")
	flags.StringVar(&diskCacheDir, "disk-cache", "", "directory for a local blob cache")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		applyDefault(cmd, "remote", &remoteTarget, cfg.Remote)
		applyDefault(cmd, "instance-name", &instanceName, cfg.InstanceName)
		applyDefault(cmd, "disk-cache", &diskCacheDir, cfg.DiskCache)
		applyDefault(cmd, "log-level", &logLevel, cfg.LogLevel)
		applyLimitDefault(cmd, cfg.Limit)
		if !cmd.Flags().Changed("tls") {
			useTLS = cfg.TLS
		}
		if !cmd.Flags().Changed("zstd") {
			useZstd = cfg.Zstd
		}

		logger, err = logging.NewLogger(logLevel)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	}
}

// applyDefault fills a string flag from config when not set explicitly.
func applyDefault(cmd *cobra.Command, name string, value *string, fallback string) {
	if !cmd.Flags().Changed(name) && fallback != "" {
		*value = fallback
	}
}

// applyLimitDefault fills a subcommand's --limit flag from config when
// not set explicitly. Commands without the flag are left alone.
func applyLimitDefault(cmd *cobra.Command, fallback int) {
	flag := cmd.Flags().Lookup("limit")
	if flag == nil || flag.Changed || fallback <= 0 {
		return
	}
	flag.Value.Set(strconv.Itoa(fallback))
}

// newCache opens the remote cache connection, layered with the local
// disk cache when one is configured. The returned cleanup closes both.
func newCache() (cas.Cache, func(), error) {
	remote, err := cas.NewRemoteCache(cas.RemoteCacheOptions{
		Target:       remoteTarget,
		InstanceName: instanceName,
		TLS:          useTLS,
		Zstd:         useZstd,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if diskCacheDir == "" {
		return remote, func() { remote.Close() }, nil
	}

	opts := badger.DefaultOptions(diskCacheDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		remote.Close()
		return nil, nil, fmt.Errorf("opening disk cache: %w", err)
	}
	cache, err := cas.NewDiskCache(remote, db, cas.DefaultDiskCacheOptions())
	if err != nil {
		db.Close()
		remote.Close()
		return nil, nil, err
	}
	return cache, func() {
		db.Close()
		remote.Close()
	}, nil
}

func readJSONFile(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func init() {
	var (
		digestFlag string
		limit      int
	)
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List a directory tree rooted at a digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(digestFlag)
			if err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := cache.FetchTree(context.Background(), d)
			if err != nil {
				return err
			}
			return render.New(cache, os.Stdout).ListTree(t, limit)
		},
	}
	lsCmd.Flags().StringVar(&digestFlag, "digest", "", "root directory digest as hash/size")
	lsCmd.Flags().IntVar(&limit, "limit", 100, "maximum number of files to list")
	lsCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(lsCmd)
}

func init() {
	var (
		digestFlag string
		limit      int
	)
	lsOutDirCmd := &cobra.Command{
		Use:   "lsoutdir",
		Short: "List an OutputDirectory fetched by digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(digestFlag)
			if err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			dir, err := cas.FetchOutputDirectory(ctx, cache, d)
			if err != nil {
				return err
			}
			return render.New(cache, os.Stdout).ListOutputDirectory(ctx, action.OutputDirectory{
				Path:       dir.Path,
				TreeDigest: digest.FromProto(dir.TreeDigest),
			}, limit)
		},
	}
	lsOutDirCmd.Flags().StringVar(&digestFlag, "digest", "", "OutputDirectory digest as hash/size")
	lsOutDirCmd.Flags().IntVar(&limit, "limit", 100, "maximum number of files to list")
	lsOutDirCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(lsOutDirCmd)
}

func init() {
	var (
		digestFlag string
		path       string
	)
	getDirCmd := &cobra.Command{
		Use:   "getdir",
		Short: "Download a directory tree to a local path",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(digestFlag)
			if err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cache.DownloadDirectory(context.Background(), path, d); err != nil {
				return fmt.Errorf("downloading directory: %w", err)
			}
			fmt.Printf("Downloaded directory %s to %s\n", d, path)
			return nil
		},
	}
	getDirCmd.Flags().StringVar(&digestFlag, "digest", "", "root directory digest as hash/size")
	getDirCmd.Flags().StringVar(&path, "path", ".", "local destination path")
	getDirCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(getDirCmd)
}

func init() {
	var (
		digestFlag string
		path       string
	)
	getOutDirCmd := &cobra.Command{
		Use:   "getoutdir",
		Short: "Download an OutputDirectory's contents to a local path",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(digestFlag)
			if err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			dir, err := cas.FetchOutputDirectory(ctx, cache, d)
			if err != nil {
				return err
			}
			t, err := cas.FetchTreeBlob(ctx, cache, digest.FromProto(dir.TreeDigest))
			if err != nil {
				return err
			}
			if err := cas.MaterializeTree(ctx, cache, path, t); err != nil {
				return fmt.Errorf("downloading output directory: %w", err)
			}
			fmt.Printf("Downloaded output directory %s to %s\n", dir.Path, path)
			return nil
		},
	}
	getOutDirCmd.Flags().StringVar(&digestFlag, "digest", "", "OutputDirectory digest as hash/size")
	getOutDirCmd.Flags().StringVar(&path, "path", ".", "local destination path")
	getOutDirCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(getOutDirCmd)
}

func init() {
	var (
		digestFlag string
		file       string
	)
	catCmd := &cobra.Command{
		Use:   "cat",
		Short: "Write a blob's content to stdout or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(digestFlag)
			if err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			if file == "" {
				return cas.StreamBlob(ctx, cache, d, os.Stdout)
			}
			out, err := os.Create(file)
			if err != nil {
				return fmt.Errorf("creating %s: %w", file, err)
			}
			if err := cas.StreamBlob(ctx, cache, d, out); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("writing %s: %w", file, err)
			}
			return nil
		},
	}
	catCmd.Flags().StringVar(&digestFlag, "digest", "", "blob digest as hash/size")
	catCmd.Flags().StringVar(&file, "file", "", "write to this file instead of stdout")
	catCmd.MarkFlagRequired("digest")
	rootCmd.AddCommand(catCmd)
}

func init() {
	var (
		file  string
		limit int
	)
	showActionCmd := &cobra.Command{
		Use:     "show-action",
		Aliases: []string{"sa"},
		Short:   "Render an Action read from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var act action.Action
			if err := readJSONFile(file, &act); err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			return render.New(cache, os.Stdout).PrintAction(context.Background(), &act, limit)
		},
	}
	showActionCmd.Flags().StringVar(&file, "file", "", "JSON file holding the Action")
	showActionCmd.Flags().IntVar(&limit, "limit", 100, "maximum entries per listed section")
	showActionCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(showActionCmd)
}

func init() {
	var (
		file    string
		limit   int
		showRaw bool
	)
	showResultCmd := &cobra.Command{
		Use:     "show-action-result",
		Aliases: []string{"sar"},
		Short:   "Render an ActionResult read from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result action.ActionResult
			if err := readJSONFile(file, &result); err != nil {
				return err
			}
			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			return render.New(cache, os.Stdout).PrintActionResult(context.Background(), &result, limit, showRaw)
		},
	}
	showResultCmd.Flags().StringVar(&file, "file", "", "JSON file holding the ActionResult")
	showResultCmd.Flags().IntVar(&limit, "limit", 100, "maximum entries per listed section")
	showResultCmd.Flags().BoolVar(&showRaw, "show-raw-outputs", false, "print inline output contents instead of redacting them")
	showResultCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(showResultCmd)
}

func init() {
	var (
		file string
		path string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Set up an Action locally and print its docker replay command",
		RunE: func(cmd *cobra.Command, args []string) error {
			var act action.Action
			if err := readJSONFile(file, &act); err != nil {
				return err
			}
			if path == "" {
				var err error
				path, err = os.MkdirTemp("", "remote-client-action-")
				if err != nil {
					return fmt.Errorf("creating setup directory: %w", err)
				}
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolving setup directory: %w", err)
			}

			cache, cleanup, err := newCache()
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Printf("Setting up action in %s...\n", abs)
			line, err := run.Setup(context.Background(), cache, &act, abs)
			if err != nil {
				return err
			}
			color.Green("Action set up in %s.", abs)
			fmt.Println("\nTo run the action locally, run:")
			fmt.Println("  " + line)
			return nil
		},
	}
	runCmd.Flags().StringVar(&file, "file", "", "JSON file holding the Action")
	runCmd.Flags().StringVar(&path, "path", "", "setup directory (default a fresh temp directory)")
	runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	defer func() {
		_ = logger.Sync()
	}()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
