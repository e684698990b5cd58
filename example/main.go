// FILE: lixenwraith/confgraph/example/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lixenwraith/confgraph"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server is built by the document through an object tag.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerOptions are the named arguments of NewServer.
type ServerOptions struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func NewServer(opts ServerOptions) *Server {
	log.Printf("   (NewServer called with %s:%d)", opts.Host, opts.Port)
	return &Server{Host: opts.Host, Port: opts.Port}
}

func Announce(msg string) {
	log.Printf("   (Announce called at load time: %q)", msg)
}

const configFilePath = "config.yaml"

const initialDocument = `server:
  host: localhost
  port: 8080
  log_level: info
status_url: !!ref:server.host:/status
api: !!object/lazy:app.NewServer
  kwargs:
    host: 0.0.0.0
    port: 9090
startup: !!object/call:app.Announce ["config loaded"]
retries: 2
timeout_seconds: !!expr "retries * 15"
greeting: "héllo"
`

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	// =========================================================================
	// PART 1: INITIAL SETUP
	// =========================================================================
	log.Print("---")
	log.Print("➡️  PART 1: Creating initial configuration file...")

	defer func() {
		log.Print("---")
		log.Print("🧹 Cleaning up...")
		os.Remove(configFilePath)
		os.Unsetenv("APP_SERVER_PORT")
	}()

	if err := os.WriteFile(configFilePath, []byte(initialDocument), 0644); err != nil {
		log.Fatal().Msgf("❌ Failed to write %s: %v", configFilePath, err)
	}

	symbols := confgraph.NewSymbolTable().
		MustRegister("app.NewServer", NewServer).
		MustRegister("app.Announce", Announce)

	// =========================================================================
	// PART 2: BUILDER WITH OVERRIDES
	// =========================================================================
	log.Print("---")
	log.Print("➡️  PART 2: Loading with the Builder...")

	os.Setenv("APP_SERVER_PORT", "8888")
	log.Print("   (Set environment variable APP_SERVER_PORT=8888)")

	cfg, err := confgraph.NewBuilder().
		WithResolver(symbols).
		WithLogger(log.Logger.Level(zerolog.InfoLevel)).
		WithFile(configFilePath).
		WithEnvPrefix("APP_").
		WithArgs([]string{"--server.log_level=warn"}).
		WithValidator(func(c *confgraph.Config) error {
			port, err := c.GetInt64("server.port")
			if err != nil {
				return err
			}
			if port < 1024 || port > 65535 {
				return fmt.Errorf("port %d is outside the recommended range (1024-65535)", port)
			}
			return nil
		}).
		Build()
	if err != nil && !errors.Is(err, confgraph.ErrConfigNotFound) {
		log.Fatal().Msgf("❌ Builder failed: %v", err)
	}
	log.Print("✅ Builder finished.")

	port, _ := cfg.GetInt64("server.port")
	level, _ := cfg.GetString("server.log_level")
	log.Printf("   server.port=%d (env), server.log_level=%s (cli)", port, level)

	// =========================================================================
	// PART 3: DEFERRED VALUES
	// =========================================================================
	log.Print("---")
	log.Print("➡️  PART 3: Reading deferred values...")

	statusURL, _ := cfg.GetString("status_url")
	log.Printf("   status_url = %s", statusURL)

	log.Print("   (Reading api for the first time...)")
	api, err := cfg.Get("api")
	if err != nil {
		log.Fatal().Msgf("❌ Failed to construct api: %v", err)
	}
	log.Printf("   api = %+v", api)

	timeout, _ := cfg.Get("timeout_seconds")
	log.Printf("   timeout_seconds = %v", timeout)

	if err := cfg.Set("server.host", "example.internal"); err != nil {
		log.Fatal().Msgf("❌ Set failed: %v", err)
	}
	statusURL, _ = cfg.GetString("status_url")
	log.Printf("   status_url after changing server.host = %s", statusURL)

	rendered, _ := cfg.Render(confgraph.RenderOptions{EscapeNonASCII: true})
	log.Print("   Rendered document:")
	for _, line := range strings.Split(strings.TrimSpace(rendered), "\n") {
		log.Printf("     %s", line)
	}

	// =========================================================================
	// PART 4: DYNAMIC RELOADING WITH THE WATCHER
	// =========================================================================
	log.Print("---")
	log.Print("➡️  PART 4: Testing the file watcher...")

	cfg.AutoUpdateWithOptions(confgraph.WatchOptions{
		PollInterval: 250 * time.Millisecond,
		Debounce:     100 * time.Millisecond,
	})
	defer cfg.StopAutoUpdate()
	changes := cfg.Watch()

	var wg sync.WaitGroup
	wg.Add(1)
	go modifyFileOnDisk(&wg)

	select {
	case key := <-changes:
		log.Printf("✅ Watcher detected a change for key: '%s'", key)
		level, _ := cfg.GetString("server.log_level")
		log.Printf("   server.log_level = %s", level)
	case <-time.After(5 * time.Second):
		log.Fatal().Msg("❌ Timed out waiting for watcher notification.")
	}

	wg.Wait()
}

// modifyFileOnDisk simulates an external program changing the config file.
func modifyFileOnDisk(wg *sync.WaitGroup) {
	defer wg.Done()
	time.Sleep(1 * time.Second)

	updated := strings.Replace(initialDocument, "log_level: info", "log_level: debug", 1)
	if err := os.WriteFile(configFilePath, []byte(updated), 0644); err != nil {
		log.Fatal().Msgf("❌ Modifier failed to write file: %v", err)
	}
	log.Print("   (Modifier goroutine: file changed.)")
}
