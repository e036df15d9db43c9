package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SebastianBathrick/dporch/internal/codec"
	"github.com/SebastianBathrick/dporch/internal/config"
	"github.com/SebastianBathrick/dporch/internal/driver"
	"github.com/SebastianBathrick/dporch/internal/launcher"
	"github.com/SebastianBathrick/dporch/internal/logging"
	"github.com/SebastianBathrick/dporch/internal/metrics"
	"github.com/SebastianBathrick/dporch/internal/scripthost"
	"github.com/SebastianBathrick/dporch/internal/step"
	"github.com/SebastianBathrick/dporch/internal/vars"
)

func main() {
	configFlag := flag.String("config", "", "path to a pipeline configuration file (legacy single-worker invocation)")
	flag.Parse()

	paths := flag.Args()
	if *configFlag != "" {
		paths = append([]string{*configFlag}, paths...)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dporch <config.json> [config2.json ...]")
		os.Exit(1)
	}

	os.Exit(run(paths))
}

// run launches the first config path's pipeline in this process and, for
// every additional path, spawns a worker subprocess. Per spec.md §6's CLI
// surface.
func run(paths []string) int {
	env := config.LoadOrDefault()
	logger := newLogger(env)
	defer logger.Sync()

	selfBin, err := os.Executable()
	if err != nil {
		logger.Sugar().Errorw("resolve own executable path", "error", err)
		return 1
	}

	mgr := launcher.NewManager(selfBin, logger)
	for _, p := range paths[1:] {
		if _, err := mgr.Spawn(p); err != nil {
			logger.Sugar().Errorw("spawn worker", "config", p, "error", err)
			return 1
		}
	}

	exitCode := runPipeline(paths[0], env, logger)

	mgr.Shutdown()
	if err := mgr.Wait(); err != nil {
		logger.Sugar().Errorw("worker exited with error", "error", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}

	return exitCode
}

func runPipeline(configPath string, env *config.Env, logger *logging.Logger) int {
	doc, err := config.Load(configPath)
	if err != nil {
		logger.Sugar().Errorw("load pipeline document", "path", configPath, "error", err)
		return 1
	}

	d, mserver, err := buildDriver(doc, env, logger)
	if err != nil {
		logger.Sugar().Errorw("build pipeline", "name", doc.Name, "error", err)
		return 1
	}

	if mserver != nil {
		go func() {
			if err := mserver.Run(); err != nil {
				logger.Sugar().Warnw("debug server stopped", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = mserver.Close(ctx)
		}()
	}

	exit, err := d.Start()
	if err != nil {
		logger.Sugar().Errorw("start driver", "name", doc.Name, "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Sugar().Infow("received shutdown signal", "name", doc.Name)
		d.Cancel()
		result := <-exit
		return exitCodeFor(result)
	case result := <-exit:
		return exitCodeFor(result)
	}
}

func exitCodeFor(result driver.Exit) int {
	if result.Kind == driver.ExitFailed {
		return 1
	}
	return 0
}

// buildDriver assembles one driver.Config from a pipeline document: the
// script-host bridge, the default structural codec, and every configured
// role step, wired per spec.md §4.
func buildDriver(doc *config.Document, env *config.Env, logger *logging.Logger) (*driver.Driver, *metrics.Server, error) {
	searchRoot := doc.Name
	if len(doc.Scripts) > 0 {
		searchRoot = filepath.Dir(doc.Scripts[0])
	}

	bridge := scripthost.New(logger)
	if err := bridge.Initialize(env.RuntimeLocator, searchRoot); err != nil {
		return nil, nil, fmt.Errorf("initialize script host: %w", err)
	}

	structCodec, err := codec.NewStructuralCodec(bridge)
	if err != nil {
		return nil, nil, fmt.Errorf("install codec: %w", err)
	}

	m := metrics.New()

	var scripts []step.ScriptStep
	for _, path := range doc.Scripts {
		scripts = append(scripts, step.NewScript(bridge, path, []vars.Variable{vars.NewDeltaTime()}).WithMetrics(m))
	}

	cfg := driver.Config{
		Name:    doc.Name,
		Scripts: scripts,
	}
	if doc.SourcePipelineCount > 0 {
		cfg.Input = step.NewInput(step.InputConfig{
			PipelineName:       doc.Name,
			InboundInterface:   env.InboundInterface,
			OutboundInterfaces: env.OutboundInterface,
			DiscoveryPort:      env.DiscoveryPort,
			ExpectedSources:    doc.SourcePipelineCount,
		}).WithMetrics(m)
		cfg.Deserialize = step.NewDeserialize(structCodec)
	}
	if len(doc.TargetPipelineNames) > 0 {
		cfg.Serialize = step.NewSerialize(structCodec)
		cfg.Output = step.NewOutput(step.OutputConfig{
			PipelineName:  doc.Name,
			DiscoveryPort: env.DiscoveryPort,
			TargetNames:   doc.TargetPipelineNames,
			Compress:      doc.Compress,
		}).WithLogger(logger).WithMetrics(m)
	}

	d := driver.New(cfg, logger).WithMetrics(m)

	var mserver *metrics.Server
	if env.Metrics.Enabled {
		mserver = metrics.NewServer(env.Metrics.Addr, m, func() string { return d.State().String() }, logger)
	}

	return d, mserver, nil
}

func newLogger(env *config.Env) *logging.Logger {
	if env.Logging.Development {
		return logging.NewDevelopment()
	}
	return logging.NewDefault()
}
