package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/whiteboard/internal/config"
	"github.com/zjrosen/whiteboard/internal/declare"
	"github.com/zjrosen/whiteboard/internal/flags"
	"github.com/zjrosen/whiteboard/internal/httpwhiteboard"
	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/tracing"
	"github.com/zjrosen/whiteboard/internal/watcher"
	"github.com/zjrosen/whiteboard/internal/whiteboard"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the whiteboard over HTTP",
	Long: `Start the HTTP host and the whiteboard engine, register the provider
declarations found in the providers directory and serve until interrupted.

Examples:
  whiteboard run
  whiteboard run --addr :9090 --providers ./providers
  whiteboard run --context-path /rest`,
	RunE: runServer,
}

var (
	runAddr        string
	runProviders   string
	runContextPath string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runAddr, "addr", "", "address to listen on (overrides http.addr)")
	runCmd.Flags().StringVarP(&runProviders, "providers", "p", "", "declarations directory (overrides providers.dir)")
	runCmd.Flags().StringVar(&runContextPath, "context-path", "", "prefix of the REST bus (overrides http.context_path)")
}

func runServer(cmd *cobra.Command, _ []string) error {
	c := cfg
	if runAddr != "" {
		c.HTTP.Addr = runAddr
	}
	if runProviders != "" {
		c.Providers.Dir = runProviders
	}
	if cmd.Flags().Changed("context-path") {
		c.HTTP.ContextPath = runContextPath
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if verboseFlag {
		mirrorLog(ctx, cmd.ErrOrStderr())
	}

	ln, err := net.Listen("tcp", c.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.HTTP.Addr, err)
	}
	return serve(ctx, c, flags.New(c.Flags), ln, cmd.OutOrStdout())
}

// serve runs the whole stack on ln until ctx is done.
func serve(ctx context.Context, c config.Config, fl *flags.Registry, ln net.Listener, out io.Writer) (err error) {
	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("creating tracer: %w", err)
	}
	defer func() { err = errors.Join(err, tp.Shutdown(context.Background())) }()

	jr, err := openJournal(c, fl)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { err = errors.Join(err, jr.Close()) }()

	reg := registry.New(registry.WithFilterTTL(c.Cache.FilterTTL))
	defer reg.Close()

	host := httpwhiteboard.NewHost(reg, httpwhiteboard.WithTracer(tp.Tracer()))
	if err := host.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting host: %w", err)
	}
	defer host.Close()

	syncer := declare.NewSyncer(reg)
	defer syncer.Close()

	engine := whiteboard.New(reg,
		whiteboard.WithTracer(tp.Tracer()),
		whiteboard.WithJournal(jr),
		whiteboard.WithContextPath(c.HTTP.ContextPath),
		whiteboard.WithServletRanking(c.HTTP.ServletRanking),
	)
	if err := engine.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		st := engine.Status()
		log.Info(log.CatEngine, "status", "run", st.RunID, "endpoints", len(st.Endpoints), "bindings", len(st.Bindings), "failures", len(st.Failures))
		_, _ = fmt.Fprintf(out, "Retracting %d endpoints, %d bindings (%d failed providers)\n",
			len(st.Endpoints), len(st.Bindings), len(st.Failures))
		err = errors.Join(err, engine.Stop(context.Background()))
	}()

	reload := func() {
		if err := syncProviders(c.Providers.Dir, syncer); err != nil {
			log.ErrorErr(log.CatConfig, "Loading declarations failed", err, "dir", c.Providers.Dir)
			_, _ = fmt.Fprintf(out, "declarations: %v\n", err)
		}
	}
	reload()

	if c.Providers.Watch && fl.Enabled(flags.FlagWatchProviders) {
		stopWatch, err := watchProviders(c.Providers, reload)
		if err != nil {
			log.Warn(log.CatWatcher, "Not watching declarations", "error", err)
		} else {
			defer stopWatch()
		}
	}

	_, _ = fmt.Fprintf(out, "Whiteboard listening on %s\n", ln.Addr())
	if err := host.Serve(ctx, ln); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Shutting down")
	return nil
}

func openJournal(c config.Config, fl *flags.Registry) (journal.Journal, error) {
	if !fl.Enabled(flags.FlagJournal) {
		return journal.NewMemory(c.Journal.MaxEntries), nil
	}
	store, err := journal.Open(c.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return store, nil
}

func syncProviders(dir string, syncer *declare.Syncer) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		log.Warn(log.CatConfig, "Declarations directory missing", "dir", dir)
		return nil
	}
	decls, err := declare.LoadDir(os.DirFS(dir))
	if err != nil {
		return err
	}
	_, err = syncer.Sync(decls)
	return err
}

func watchProviders(pc config.ProvidersConfig, reload func()) (func(), error) {
	w, err := watcher.New(watcher.Config{Dir: pc.Dir, Debounce: pc.Debounce})
	if err != nil {
		return nil, err
	}
	onChange, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return nil, err
	}

	done, exited := make(chan struct{}), make(chan struct{})
	log.SafeGo("providers.reload", func() {
		defer close(exited)
		for {
			select {
			case <-onChange:
				reload()
			case <-done:
				return
			}
		}
	})
	return func() {
		close(done)
		<-exited
		_ = w.Stop()
	}, nil
}

// mirrorLog copies log lines to w until ctx is done.
func mirrorLog(ctx context.Context, w io.Writer) {
	lines := log.Subscribe(ctx)
	if lines == nil {
		return
	}
	log.SafeGo("log.mirror", func() {
		for ev := range lines {
			_, _ = io.WriteString(w, ev.Payload)
		}
	})
}
