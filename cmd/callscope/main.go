package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/callscope/callscope/pkg/config"
	"github.com/callscope/callscope/pkg/debugger"
	"github.com/callscope/callscope/pkg/instrument"
	"github.com/callscope/callscope/pkg/logging"
	"github.com/callscope/callscope/pkg/spec"
	"github.com/callscope/callscope/pkg/trace"
	"github.com/callscope/callscope/pkg/version"
)

func main() {
	var (
		configPath  = flag.String("config", "config.json", "engine configuration file (YAML or JSON)")
		inputPath   = flag.String("input", "", "call specification file (overrides config)")
		outputPath  = flag.String("output", "", "trace output file (overrides config)")
		stdinPath   = flag.String("stdin", "", "file attached to the target's stdin (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <target binary>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	target := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *inputPath != "" {
		cfg.Input = *inputPath
	}
	if *outputPath != "" {
		cfg.Output = *outputPath
	}
	if *stdinPath != "" {
		cfg.StdInput = *stdinPath
	}

	logger, err := logging.New(cfg.LogFile, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to open log file %s: %v", cfg.LogFile, err)
	}
	defer logger.Close()

	callSpec, err := spec.Load(cfg.Input)
	if err != nil {
		log.Fatalf("Failed to load call specification: %v", err)
	}
	logger.Infof("Loaded specification with %d tracked function(s)", callSpec.Functions())

	backend, err := debugger.NewDelveBackend(target, cfg.StdInput, logger)
	if err != nil {
		log.Fatalf("Failed to start debugger backend: %v", err)
	}
	defer backend.Close()

	sink := trace.NewSink(cfg.Output, cfg.Compress)
	controller := instrument.NewController(backend, callSpec, sink, logger, instrument.Options{
		EntrySymbol:  cfg.EntrySymbol,
		MainFunction: cfg.MainFunction,
		MaxDepth:     cfg.MaxDepth,
	})

	if err := controller.Run(); err != nil {
		log.Fatalf("Instrumentation run failed: %v", err)
	}
	logger.Infof("Trace written to %s (%d captures)", cfg.Output, sink.Len())
}
