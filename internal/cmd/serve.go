package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/engine"
	"github.com/minicodemonkey/frotzchat/internal/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions contains configuration for the serve command.
type ServeOptions struct {
	Dir     string          // Project directory holding .frotzchat/config.yaml
	Listen  string          // Override listen address
	LogFile string          // Path to log file (default: stderr)
	Ctx     context.Context // Optional context for cancellation (for testing)

	// Ready, when set, receives the bound address once the server listens.
	Ready chan<- string
}

// RunServe starts the chat server and blocks until it is stopped.
func RunServe(opts ServeOptions) error {
	s, err := loadSetup(opts.Dir)
	if err != nil {
		return err
	}

	// Set up logging
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer func() {
			f.Sync()
			f.Close()
		}()
		log.SetOutput(f)
		defer log.SetOutput(os.Stderr)
	}

	info, err := os.Stat(s.gamesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("games directory does not exist: %s", s.gamesDir)
		}
		return fmt.Errorf("checking games directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("games path is not a directory: %s", s.gamesDir)
	}

	listen := opts.Listen
	if listen == "" {
		listen = s.cfg.EffectiveListen()
	}

	ctx := opts.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng := s.engine()

	// The server is created before the first scan so listing changes can be
	// broadcast; the callback tolerates the nil server of the initial scan.
	var server *ws.Server
	scanner := s.scanner(func(games []catalog.Game) {
		if server != nil {
			log.Printf("Game list changed (%d games)", len(games))
			server.BroadcastGames(games)
		}
	})
	server = ws.NewServer(scanner, eng, ws.WithMode(s.mode), ws.WithLimits(s.limits()))

	if len(scanner.Games()) == 0 {
		log.Printf("Warning: %v", s.noGamesError())
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	log.Printf("Starting frotzchat serve (games: %s, saves: %s, mode: %s)", s.gamesDir, s.savesDir, s.mode)
	log.Printf("Listening on ws://%s/ws", ln.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	// Start periodic scanning loop
	go scanner.Run(ctx)

	// Start file watcher
	watcher, err := catalog.NewWatcher(scanner)
	if err != nil {
		log.Printf("Warning: could not start file watcher: %v", err)
	} else {
		go watcher.Run(ctx)
		log.Println("File watcher started")
	}

	go logEvents(ctx, eng)

	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	log.Println("Serve is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Context cancelled, shutting down...")
	case sig := <-sigCh:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serving: %w", err)
		}
	}

	serveShutdown(httpSrv, server, watcher, eng)
	return runErr
}

// serveShutdown stops accepting connections, closes the open ones and stops
// every interpreter. Saves are kept so players resume after a restart.
func serveShutdown(httpSrv *http.Server, server *ws.Server, watcher *catalog.Watcher, eng *engine.Engine) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	server.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if watcher != nil {
		watcher.Close()
	}
	eng.Shutdown()
	log.Println("Shutdown complete")
}

// logEvents logs session lifecycle events until ctx is done.
func logEvents(ctx context.Context, eng *engine.Engine) {
	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case engine.EventStarted:
				if ev.Replay > 0 {
					log.Printf("%s resumed %s (%d moves replayed)", ev.Key.Player, ev.Key.Game, ev.Replay)
				} else {
					log.Printf("%s started %s", ev.Key.Player, ev.Key.Game)
				}
			case engine.EventEnded:
				log.Printf("%s finished %s", ev.Key.Player, ev.Key.Game)
			case engine.EventLeft:
				log.Printf("%s left %s", ev.Key.Player, ev.Key.Game)
			case engine.EventResponse:
				log.Printf("[debug] %s played %s", ev.Key.Player, ev.Key.Game)
			}
		}
	}
}
