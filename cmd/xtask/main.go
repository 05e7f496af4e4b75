// Command xtask builds, emulates and tests the Halogen kernel.
//
//	xtask [flags] [task...]
//
// Tasks run in the order given. With no task the default task (check) runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"

	"github.com/halogen-os/xtask"
	"github.com/halogen-os/xtask/internal/config"
	xmcp "github.com/halogen-os/xtask/internal/mcp"
	"github.com/halogen-os/xtask/internal/report"
	"github.com/halogen-os/xtask/internal/tasks"
	"github.com/halogen-os/xtask/internal/workflow"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		var unknown *tasks.UnknownTaskError
		switch {
		case errors.As(err, &unknown):
			fmt.Fprintln(os.Stdout, unknown.Error())
		case errors.Is(err, tasks.ErrNoTask):
		default:
			fmt.Fprintf(os.Stderr, "xtask: %v\n", err)
		}
	}
	os.Exit(exitCode(err))
}

// exitCode maps a dispatch error to the process exit status: 0 on success
// or help, 2 when no task was named and there is no default, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, tasks.ErrNoTask):
		return 2
	default:
		return 1
	}
}

type options struct {
	verbose    bool
	configPath string
	mcp        bool
	httpAddr   string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		opts options
		log  *zap.Logger
	)

	cmd := &cobra.Command{
		Use:   "xtask [flags] [task...]",
		Short: "Build, emulate and test the Halogen kernel",
		Long: `xtask drives the Halogen kernel toolchain: cargo, objcopy, the OpenSBI
firmware build and qemu-system-riscv64.

Tasks run in the order given and the first failure stops the chain.
With no task the default task (check) runs.`,
		Version:       xtask.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
			if opts.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			cfg.DisableStacktrace = true
			var err error
			log, err = cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			log.Debug("config loaded", zap.String("repo_root", loaded.RepoRoot), zap.String("path", loaded.Path))

			if opts.mcp || opts.httpAddr != "" {
				return serve(cmd.Context(), loaded, opts.httpAddr, log)
			}

			e := workflow.New(workflow.Options{
				Config:   loaded.Config,
				RepoRoot: loaded.RepoRoot,
				Stdin:    stdin,
				Stdout:   stdout,
				Stderr:   stderr,
				Log:      log,
			})
			return workflow.Tasks(e).Dispatch(cmd.Context(), args, stderr)
		},
	}

	cmd.SetIn(stdin)
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		// Task names do not depend on the configuration.
		workflow.Tasks(&workflow.Engine{}).Usage(c.OutOrStderr())
		fmt.Fprintf(c.OutOrStderr(), "\nFlags:\n%s", c.Flags().FlagUsages())
	})

	f := cmd.Flags()
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every spawned command")
	f.StringVar(&opts.configPath, "config", "", "config file (default: "+config.FileName+" found from the working directory upward)")
	f.BoolVar(&opts.mcp, "mcp", false, "serve the MCP tools on stdio instead of running tasks")
	f.StringVar(&opts.httpAddr, "http", "", "serve the MCP tools over HTTP on address (e.g. :9090)")
	return cmd
}

func loadConfig(path string) (*config.LoadResult, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	loaded, err := config.Load(wd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

func serve(ctx context.Context, loaded *config.LoadResult, httpAddr string, log *zap.Logger) error {
	store := report.NewLRUStore(5, report.NewDiskStore(""))
	server := xmcp.NewServer(loaded.Config, loaded.RepoRoot, store, log.Named("mcp"))

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, log)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, log *zap.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Info("listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
