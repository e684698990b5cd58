// FILE: lixenwraith/confgraph/cmd/confgraph/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lixenwraith/confgraph"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func initLogger(verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", "confgraph").Logger()
	log.Logger = logger
	return logger
}

func main() {
	get := flag.String("get", "", "print the resolved value at a dotted path")
	raw := flag.Bool("raw", false, "print the raw snapshot instead of the parsed tree")
	ascii := flag.Bool("ascii", false, "escape non-ASCII characters in the rendered output")
	watch := flag.Bool("watch", false, "keep running and report changed keys")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := initLogger(*verbose)

	cfg, err := confgraph.NewBuilder().
		WithLogger(logger).
		WithFiles(flag.Args()...).
		Build()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	switch {
	case *get != "":
		value, err := cfg.Get(*get)
		if err != nil {
			log.Fatal().Err(err).Str("path", *get).Msg("failed to read value")
		}
		fmt.Printf("%v\n", value)
	case *raw:
		fmt.Println(cfg.Repr())
	default:
		out, err := cfg.Render(confgraph.RenderOptions{EscapeNonASCII: *ascii})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to render configuration")
		}
		fmt.Print(out)
	}

	if !*watch {
		return
	}

	changes := cfg.Watch()
	defer cfg.StopAutoUpdate()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Strs("files", cfg.Files()).Msg("watching for changes")
	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			log.Info().Str("key", key).Msg("configuration changed")
		}
	}
}
