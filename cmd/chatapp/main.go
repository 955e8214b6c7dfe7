package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/chatapp/pkg/client"
	"github.com/aeolun/chatapp/pkg/client/ui"
	"github.com/aeolun/chatapp/pkg/config"
	"github.com/aeolun/chatapp/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// Run modes
const (
	modeServer = "server"
	modeClient = "client"
	modeHost   = "host"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	mode := flag.String("mode", modeClient, "Run mode: server, client or host (server plus local client)")
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	host := flag.String("host", "", "Server host to connect to (overrides config)")
	port := flag.Int("port", 0, "Server port to listen on or connect to (overrides config)")
	username := flag.String("username", "", "Username to join with (overrides config)")
	wsURL := flag.String("ws", "", "Connect through the server's WebSocket bridge (ws://host:port) instead of TCP")
	httpAddr := flag.String("http", "", "Admin HTTP address for /health, /metrics and /ws (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("chatapp %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		cfg.Server.Port = *port
		cfg.Client.Port = *port
	}
	if *host != "" {
		cfg.Client.Host = *host
	}
	if *username != "" {
		cfg.Client.Username = *username
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *debug {
		cfg.Log.Debug = true
	}

	switch *mode {
	case modeServer:
		err = runServer(cfg)
	case modeClient:
		err = runClient(cfg, *wsURL)
	case modeHost:
		err = runHost(cfg)
	default:
		err = fmt.Errorf("unknown mode %q (want server, client or host)", *mode)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// startServer creates, binds and starts accepting on the configured port
func startServer(cfg config.Config) (*server.Server, error) {
	srv, err := server.NewServer(cfg.ToServerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Log.Debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	if err := srv.Start(cfg.ServerPort()); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	if err := srv.StartAccepting(); err != nil {
		srv.Stop()
		return nil, fmt.Errorf("failed to start server: %w", err)
	}
	return srv, nil
}

func runServer(cfg config.Config) error {
	srv, err := startServer(cfg)
	if err != nil {
		return err
	}

	log.Printf("chatapp server %s started successfully", Version)
	log.Printf("Port: %d", cfg.ServerPort())
	if addr := srv.HTTPAddr(); addr != nil {
		log.Printf("Admin HTTP: http://%s/health, http://%s/metrics, ws://%s/ws", addr, addr, addr)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	return srv.Stop()
}

func runHost(cfg config.Config) error {
	// The terminal belongs to the chat view; server logs go to a file
	closeLog, err := redirectLogs(cfg, "server.log")
	if err != nil {
		return err
	}
	defer closeLog()

	srv, err := startServer(cfg)
	if err != nil {
		return err
	}
	defer srv.Stop()

	cfg.Client.Host = "127.0.0.1"
	cfg.Client.Port = cfg.ServerPort()
	cfg.Client.Framing = cfg.Server.Framing
	return runClient(cfg, "")
}

func runClient(cfg config.Config, wsURL string) error {
	codec, err := cfg.ClientCodec()
	if err != nil {
		return err
	}

	var logger *log.Logger
	if cfg.Log.Debug {
		f, err := openLogFile(cfg, "client.log")
		if err != nil {
			return err
		}
		defer f.Close()
		logger = log.New(f, "client: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	}

	state := openState(cfg)
	if state != nil {
		defer state.Close()
	}

	var store client.StateInterface
	if state != nil {
		store = state
	}

	host, port := clientTarget(cfg, store)
	target := fmt.Sprintf("%s:%d", host, port)
	if wsURL != "" {
		target = wsURL
	}

	name := defaultUsername(cfg, store, host, port)

	sess := client.NewSession(client.WithCodec(codec), client.WithLogger(logger))
	defer sess.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdin := bufio.NewReader(os.Stdin)
	for {
		if name == "" {
			if name, err = promptUsername(stdin, os.Stdout); err != nil {
				return err
			}
		}

		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		var accepted bool
		if wsURL != "" {
			accepted, err = sess.ConnectWebSocket(connectCtx, wsURL, name)
		} else {
			accepted, err = sess.Connect(connectCtx, host, port, name)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", target, err)
		}
		if accepted {
			break
		}

		fmt.Fprintln(os.Stdout, ui.UsernameTakenText)
		name = ""
	}

	users, err := sess.ReceiveUserList()
	if err != nil {
		return fmt.Errorf("failed to receive user list: %w", err)
	}
	welcome, err := sess.ReceiveWelcomeMessage()
	if err != nil {
		return fmt.Errorf("failed to receive welcome message: %w", err)
	}

	if state != nil {
		if err := state.SaveConnection(host, port, name); err != nil {
			log.Printf("Warning: failed to save connection: %v", err)
		}
	}

	// Subscribe before listening so no event is missed
	model := ui.NewModel(sess, users, welcome, ui.Options{
		Host:   target,
		Notify: cfg.Client.Notify,
	})
	if err := sess.StartListening(); err != nil {
		return err
	}

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

// promptUsername asks until a non-empty username is entered
func promptUsername(in *bufio.Reader, out io.Writer) (string, error) {
	for {
		fmt.Fprint(out, "Pseudo: ")
		line, err := in.ReadString('\n')
		name := strings.TrimSpace(line)
		if name != "" {
			return name, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no username given")
			}
			return "", err
		}
	}
}

// clientTarget picks the server to join: flags and config first, then the
// last server that accepted us, then the built-in default
func clientTarget(cfg config.Config, store client.StateInterface) (string, int) {
	if cfg.Client.Host == "" && store != nil {
		if profile, err := store.LastProfile(); err == nil && profile != nil {
			port := profile.Port
			if cfg.Client.Port != 0 {
				port = cfg.Client.Port
			}
			return profile.Host, port
		}
	}
	return cfg.ClientEndpoint()
}

// defaultUsername returns the name to offer before prompting, or ""
func defaultUsername(cfg config.Config, store client.StateInterface, host string, port int) string {
	if cfg.Client.Username != "" {
		return cfg.Client.Username
	}
	if store == nil {
		return ""
	}
	if name := store.UsernameFor(host, port); name != "" {
		return name
	}
	return store.GetLastUsername()
}

// openState opens the client state database; failures only disable it
func openState(cfg config.Config) *client.State {
	path, err := cfg.StatePath()
	if err != nil || path == "" {
		return nil
	}
	state, err := client.OpenState(path)
	if err != nil {
		log.Printf("Warning: state disabled: %v", err)
		return nil
	}
	return state
}

// openLogFile opens name next to the config directory for appending
func openLogFile(cfg config.Config, name string) (*os.File, error) {
	dir, err := config.ExpandPath(filepath.Dir(config.DefaultPath))
	if err != nil {
		return nil, err
	}
	if path, err := cfg.StatePath(); err == nil && path != "" {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// redirectLogs sends the standard logger to a file until the returned func is called
func redirectLogs(cfg config.Config, name string) (func(), error) {
	f, err := openLogFile(cfg, name)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	server.SetLogOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		server.SetLogOutput(os.Stderr)
		f.Close()
	}, nil
}
