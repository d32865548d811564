package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"

	_ "modernc.org/sqlite"

	"github.com/chatterbox-im/chatterbox/internal/chat"
	"github.com/chatterbox-im/chatterbox/internal/config"
	"github.com/chatterbox-im/chatterbox/internal/logging"
	"github.com/chatterbox-im/chatterbox/internal/session"
	"github.com/chatterbox-im/chatterbox/internal/transport"
	"github.com/chatterbox-im/chatterbox/internal/vault"
)

// App wires the session guard, the realtime channel and the conversation
// store behind the REPL commands.
type App struct {
	config *config.Config
	guard  *session.Guard
	chat   *chat.Service
	store  *chat.Store
	log    logging.Logger

	reader *bufio.Reader

	userName    string
	currentConv string
	channelOpen bool
}

// NewApp builds the full client stack from configuration.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	db, err := vault.Open(ctx, cfg.VaultPath)
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}

	v, err := vault.New(ctx, db, []byte(cfg.DeviceSecret), log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vault: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	exchange := session.NewHTTPExchange(cfg.APIBaseURL, httpClient)
	guard := session.NewGuard(v, exchange, httpClient, cfg.RequestTimeout, log)

	manager := transport.NewManager(cfg.WSURL, guard, log, transport.Options{
		ConnectTimeout: cfg.ConnectTimeout,
	})

	store := chat.NewStore()
	rest := chat.NewRESTClient(cfg.APIBaseURL, guard)
	service := chat.NewService(store, rest, manager, log)

	app := &App{
		config: cfg,
		guard:  guard,
		chat:   service,
		store:  store,
		log:    log,
		reader: bufio.NewReader(os.Stdin),
	}

	guard.OnEvent(func(e session.Event) {
		if e == session.EventSessionExpired {
			printlnFn("Session expired, please log in again.")
			app.chat.CloseChannel()
			app.channelOpen = false
			app.userName = ""
		}
	})

	return app, nil
}

func (a *App) isLoggedIn() bool {
	return a.userName != ""
}

func (a *App) getStatus() string {
	s := a.userName
	if a.currentConv != "" {
		s = s + " #" + a.currentConv
	}
	if s != "" {
		s = fmt.Sprintf("(%s) ", s)
	}
	return s
}

// Run resumes a persisted session if one exists, then hands control to
// the REPL until the user exits.
func (a *App) Run(ctx context.Context) {
	printlnFn("Chatterbox CLI (type 'help' for commands)")

	if id, err := a.guard.CurrentIdentity(ctx); err == nil && id != nil {
		a.userName = id.DisplayName
		printlnFn("Welcome back,", id.DisplayName)
	}

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)

	a.chat.CloseChannel()
	a.guard.Close()
}
