// confbackupctl 离线工具：比较配置文件、检查快照存储。
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/database"
	"github.com/sshcollectorpro/confbackup/internal/diff"
	"github.com/sshcollectorpro/confbackup/internal/util"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"github.com/sshcollectorpro/confbackup/pkg/simdevice"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "confbackupctl",
		Short:         "Offline tools for the config backup service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: opts.logLevel, Output: "console"})
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOrDefault("CONFBACKUP_CONFIG", ""), "config file (default: search ./configs)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newDiffCmd(), newArtifactCmd(opts), newSimulateCmd())
	return root
}

func newDiffCmd() *cobra.Command {
	var (
		ignoreWhitespace bool
		ignoreCase       bool
		contextLines     int
		summaryOnly      bool
	)
	cmd := &cobra.Command{
		Use:   "diff <old-file> <new-file>",
		Short: "Compare two configuration files line by line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := readText(args[0])
			if err != nil {
				return err
			}
			to, err := readText(args[1])
			if err != nil {
				return err
			}
			engine := diff.NewEngine(config.Default().Diff)
			res, err := engine.Compare(from, to, diff.Options{
				IgnoreWhitespace: ignoreWhitespace,
				IgnoreCase:       ignoreCase,
				ContextLines:     contextLines,
				FromLabel:        args[0],
				ToLabel:          args[1],
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !summaryOnly {
				fmt.Fprint(out, res.RawDiff)
			}
			s := res.Summary
			fmt.Fprintf(out, "changes: %d (+%d -%d ~%d)\n", s.TotalChanges, s.AddedLines, s.RemovedLines, s.ModifiedLines)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&ignoreWhitespace, "ignore-whitespace", "w", false, "ignore whitespace differences")
	cmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "ignore case differences")
	cmd.Flags().IntVarP(&contextLines, "context", "U", 0, "lines of context (0 uses the configured default)")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print only the change summary")
	return cmd
}

func newArtifactCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Inspect the content-addressed snapshot store",
	}

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *artifact.Store) error {
				res, err := store.Put(ctx, data)
				if err != nil {
					return err
				}
				state := "existing"
				if res.Created {
					state = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", res.Hash, humanize.Bytes(uint64(res.Size)), state, res.URI)
				return nil
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <hash>",
		Short: "Write snapshot content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *artifact.Store) error {
				data, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}

	verify := &cobra.Command{
		Use:   "verify <hash>...",
		Short: "Re-read snapshots and check their hashes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *artifact.Store) error {
				var failed int
				for _, hash := range args {
					if err := store.Verify(ctx, hash); err != nil {
						failed++
						fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", hash, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "OK   %s\n", hash)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d snapshots failed verification", failed, len(args))
				}
				return nil
			})
		},
	}

	usage := &cobra.Command{
		Use:   "usage",
		Short: "Print snapshot count and stored bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *artifact.Store) error {
				count, bytes, err := store.Usage(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\nsnapshots: %d\nstored: %s\n", store.Backend(), count, humanize.Bytes(uint64(bytes)))
				return nil
			})
		},
	}

	cmd.AddCommand(put, get, verify, usage)
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "simulate <devices.yaml>",
		Short: "Run simulated SSH devices for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := simdevice.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			srv, err := simdevice.Start(*cfg)
			if err != nil {
				return err
			}
			defer srv.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "simulator listening on %s\n", srv.Addr())

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides the file")
	return cmd
}

// withStore 按配置打开数据库与存储后端
func withStore(ctx context.Context, opts *options, fn func(context.Context, *artifact.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database.SQLite)
	if err != nil {
		return err
	}
	defer database.Close(db)
	blob, err := artifact.NewBlob(cfg.Storage)
	if err != nil {
		return err
	}
	return fn(ctx, artifact.NewStore(db, blob))
}

func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	text, _ := util.DecodeText(data)
	return text, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
