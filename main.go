package main

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"imgload/pkg/cache"
	"imgload/pkg/cli"
	"imgload/pkg/config"
	"imgload/pkg/disk"
	"imgload/pkg/display"
	"imgload/pkg/logger"
	"imgload/pkg/metastore"
	"imgload/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	res, err := ImgloadEngine(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(res.ExitCode)
}

func ImgloadEngine(ctx context.Context, args []string) (*cli.ExecutionResult, error) {
	// 1. Parse cli.def
	cliEngine, err := cli.NewEngine(cli.DefaultDSL)
	if err != nil {
		return nil, fmt.Errorf("INTERNAL ERROR:  parsing CLI definition: %w", err)
	}

	// 2. Parse command line arguments
	pr := cliEngine.Parse(args)
	if pr.Error != nil {
		return nil, pr.Error
	}
	if pr.Help {
		cliEngine.PrintHelp(pr.HelpArgs...)
		return &cli.ExecutionResult{ExitCode: 0}, nil
	}
	inv := pr.Invocation

	// 3. Configuration: XDG defaults, command line overrides, config.json
	sysCfg, err := config.Init()
	if err != nil {
		return nil, fmt.Errorf("error initializing config: %w", err)
	}
	w := sysCfg.Checkout()
	if dir := inv.GlobalString("config"); dir != "" {
		w.SetConfigDir(dir)
	}
	if dir := inv.GlobalString("cache-dir"); dir != "" {
		w.SetCacheDir(dir)
	}
	if err := w.LoadSettings(); err != nil {
		return nil, err
	}
	sysCfg.Freeze()
	settings := sysCfg.GetSettings()

	// 4. Logging and console
	level, logFormat := settings.LogLevel, settings.LogFormat
	if inv.GlobalBool("verbose") {
		level = "debug"
	}
	if f := inv.GlobalString("log-format"); f != "" {
		logFormat = f
	}
	logger.Setup(os.Stderr, level, logFormat)

	disp := display.New(os.Stderr, inv.Bool("plain"))
	defer disp.Close()
	disp.SetVerbose(inv.GlobalBool("verbose"))

	// 5. Caches and collaborators
	index, err := cache.OpenIndex(sysCfg.GetIndexFile())
	if err != nil {
		return nil, fmt.Errorf("error opening cache index: %w", err)
	}
	defer index.Close()

	format, err := cache.ParseFormat(settings.Format)
	if err != nil {
		return nil, err
	}
	codec, err := cache.NewCodec(format, settings.Quality)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(registry)
	metas := metastore.Open(sysCfg.GetMetaFile())
	tier := cache.NewDisk(sysCfg.GetImageDir(), codec, index, settings.DiskBudget)

	managers := &cli.Managers{
		Cfg:      sysCfg,
		Disp:     disp,
		Cache:    cache.NewTwoTier(cache.NewMemory[image.Image](settings.MemoryBudget), tier, recorder),
		Metas:    metas,
		DiskMgr:  disk.NewManager(sysCfg, tier, metas),
		Metrics:  recorder,
		Registry: registry,
		Client:   &http.Client{},
	}
	handlers := &cli.DefaultHandlers{Mgr: managers}
	handlers.Register(cliEngine)

	// 6. Execute commands
	res, err := cliEngine.Execute(ctx, inv)
	if err != nil {
		return nil, err
	}
	if res.Output != nil {
		disp.RenderOutput(res.Output)
	}
	return res, nil
}
