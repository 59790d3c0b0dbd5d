package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kanapal/kanapal/internal/config"
	"github.com/kanapal/kanapal/internal/engine"
	"github.com/kanapal/kanapal/internal/kanata"
	"github.com/kanapal/kanapal/internal/metrics"
	"github.com/kanapal/kanapal/internal/rules"
	"github.com/kanapal/kanapal/internal/shell"
	"github.com/kanapal/kanapal/internal/util"
	"github.com/kanapal/kanapal/internal/wm"
)

var version = "dev"

const oneShotTimeout = 3 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(argv []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("kanapal", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", config.DefaultPath(), "path to the app rules file")
	port := fs.String("port", "127.0.0.1:10000", "kanata TCP server address (PORT or HOST:PORT)")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	quiet := fs.Bool("q", false, "only log errors")
	debug := fs.Bool("d", false, "log debug output")
	listLayers := fs.Bool("layers", false, "print the layer names known to kanata and exit")
	currentLayerName := fs.Bool("current-layer-name", false, "print the active layer name and exit")
	currentLayerInfo := fs.Bool("current-layer-info", false, "print the active layer info as JSON and exit")
	changeLayer := fs.String("change-layer", "", "switch kanata to the named layer and exit")
	fakeKey := fs.String("fake-key", "", "trigger a fake key as NAME,ACTION and exit")
	setMouse := fs.String("set-mouse", "", "move the mouse to X,Y and exit")
	winDelay := fs.Float64("win", -1, "print the active window as JSON after SECONDS and exit")
	validate := fs.Bool("validate", false, "validate the config against kanata and exit")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags]\n", fs.Name())
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Without a one-shot flag, kanapal watches window focus and switches")
		fmt.Fprintln(fs.Output(), "kanata layers according to the configured rules.")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if *showVersion {
		fmt.Fprintf(stdout, "kanapal %s\n", version)
		return nil
	}

	level := util.ParseLogLevel(*logLevel)
	if *debug {
		level = util.LevelDebug
	}
	if *quiet {
		level = util.LevelError
	}
	logger := util.NewLogger(level)

	addr, err := kanata.ParseAddr(*port)
	if err != nil {
		return err
	}

	oneShots := 0
	for _, selected := range []bool{
		*listLayers, *currentLayerName, *currentLayerInfo,
		*changeLayer != "", *fakeKey != "", *setMouse != "",
		*winDelay >= 0, *validate,
	} {
		if selected {
			oneShots++
		}
	}
	if oneShots > 1 {
		return fmt.Errorf("one-shot flags are mutually exclusive")
	}

	if *winDelay >= 0 {
		return runWin(logger, stdout, *winDelay)
	}

	if oneShots == 1 {
		client := kanata.New(addr, logger)
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
		defer cancel()
		switch {
		case *listLayers:
			names, err := client.LayerNames(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(stdout, name)
			}
			return nil
		case *currentLayerName:
			name, err := client.CurrentLayerName(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, name)
			return nil
		case *currentLayerInfo:
			info, err := client.CurrentLayerInfo(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout, info)
		case *changeLayer != "":
			return client.ChangeLayer(ctx, *changeLayer)
		case *fakeKey != "":
			name, action, err := parseFakeKeyArg(*fakeKey)
			if err != nil {
				return err
			}
			return client.ActOnFakeKey(ctx, name, action)
		case *setMouse != "":
			x, y, err := parseMouseArg(*setMouse)
			if err != nil {
				return err
			}
			return client.SetMouse(ctx, x, y)
		case *validate:
			return runValidate(ctx, client, stdout, *cfgPath)
		}
	}

	return runDaemon(logger, addr, *cfgPath)
}

func runWin(logger *util.Logger, stdout io.Writer, delay float64) error {
	listener, err := wm.Detect(logger)
	if err != nil {
		return err
	}
	if delay > 0 {
		time.Sleep(time.Duration(delay * float64(time.Second)))
	}
	win, err := listener.ActiveWindow(context.Background())
	if err != nil {
		return err
	}
	return printJSON(stdout, win)
}

func runValidate(ctx context.Context, client *kanata.Client, stdout io.Writer, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if _, err := rules.Compile(cfg); err != nil {
		return err
	}
	known, err := client.LayerNames(ctx)
	if err != nil {
		return fmt.Errorf("query layer names: %w", err)
	}
	if err := cfg.ValidateLayers(known); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "configuration OK")
	return nil
}

func runDaemon(logger *util.Logger, addr, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ruleset, err := rules.Compile(cfg)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	client := kanata.New(addr, logger)
	defer client.Close()
	checkLayers(logger, client, cfg)

	listener, err := wm.Detect(logger)
	if err != nil {
		return err
	}
	logger.Infof("watching %s focus, kanata at %s, %d rules", listener.Name(), addr, ruleset.Len())

	cfgFullPath, err := filepath.Abs(cfgPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	cfgFullPath = filepath.Clean(cfgFullPath)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(cfgFullPath)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	if err := watcher.Add(cfgFullPath); err != nil {
		logger.Debugf("unable to watch config file directly: %v", err)
	}
	reloadRequests := make(chan string, 1)
	go watchConfig(logger, watcher, cfgFullPath, reloadRequests)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector(true)
	eng := engine.New(listener, client, shell.NewRunner(logger), logger, collector, ruleset, cfg.GlobalExec)

	reload := func(reason string) error {
		logger.Infof("%s, reloading config", reason)
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ruleset, err := rules.Compile(cfg)
		if err != nil {
			return fmt.Errorf("compile rules: %w", err)
		}
		checkLayers(logger, client, cfg)
		eng.ReloadRules(ruleset, cfg.GlobalExec)
		return nil
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	errs := make(chan error, 1)
	go func() {
		errs <- eng.Run(ctx)
	}()

	for {
		select {
		case err := <-errs:
			logMetrics(logger, collector)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Infof("stopped")
			return nil
		case reason := <-reloadRequests:
			if err := reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

// checkLayers verifies the configured layers against the daemon. A daemon
// that is not reachable yet is not fatal here, the client reconnects on the
// first dispatch; unknown layer names are.
func checkLayers(logger *util.Logger, client *kanata.Client, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	defer cancel()
	known, err := client.LayerNames(ctx)
	if err != nil {
		logger.Warnf("unable to verify layer names: %v", err)
		return
	}
	if err := cfg.ValidateLayers(known); err != nil {
		logger.Errorf("%v", err)
	}
}

func logMetrics(logger *util.Logger, collector *metrics.Collector) {
	snap := collector.Snapshot()
	for _, rule := range snap.Rules {
		logger.Infof("%s: matched=%d dispatched=%d errors=%d", rule.Rule, rule.Matched, rule.Dispatched, rule.SendErrors)
	}
	logger.Infof("total: matched=%d dispatched=%d errors=%d", snap.Totals.Matched, snap.Totals.Dispatched, snap.Totals.SendErrors)
}

func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func parseFakeKeyArg(arg string) (string, string, error) {
	name, action, found := strings.Cut(arg, ",")
	name = strings.TrimSpace(name)
	action = strings.TrimSpace(action)
	if !found || name == "" || action == "" {
		return "", "", fmt.Errorf("-fake-key expects NAME,ACTION, got %q", arg)
	}
	normalized, err := config.NormalizeFakeKeyAction(action)
	if err != nil {
		return "", "", err
	}
	return name, normalized, nil
}

func parseMouseArg(arg string) (int, int, error) {
	xs, ys, found := strings.Cut(arg, ",")
	if !found {
		return 0, 0, fmt.Errorf("-set-mouse expects X,Y, got %q", arg)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return 0, 0, fmt.Errorf("-set-mouse x: %w", err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return 0, 0, fmt.Errorf("-set-mouse y: %w", err)
	}
	return x, y, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
