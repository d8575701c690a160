package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/config"
	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/db"
	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/extract"
	"github.com/tOgg1/bishma/internal/gateway"
	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
	"github.com/tOgg1/bishma/internal/session"
	"github.com/tOgg1/bishma/internal/snapshot"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// app carries flag values and the loaded configuration between commands.
type app struct {
	version string

	configFile string
	logLevel   string
	logFormat  string
	sessionID  string

	cfg    *config.Config
	loader *config.Loader
	logger zerolog.Logger

	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	logFile *os.File

	// Overridable in tests.
	registry     *gateway.Registry
	newExtractor func(cfg extract.Config) (extract.Extractor, error)
	isTerminal   func() bool
}

func newApp(version string) *app {
	return &app{
		version:      version,
		in:           os.Stdin,
		out:          os.Stdout,
		errOut:       os.Stderr,
		logger:       logging.Nop(),
		registry:     gateway.DefaultRegistry(),
		newExtractor: extract.New,
		isTerminal:   hasTTY,
	}
}

// load reads configuration with flags taking precedence, then sets up
// logging.
func (a *app) load() error {
	loader := config.NewLoader()
	if a.configFile != "" {
		loader.SetConfigFile(a.configFile)
	}
	if a.logLevel != "" {
		loader.Set("logging.level", a.logLevel)
	}
	if a.logFormat != "" {
		loader.Set("logging.format", a.logFormat)
	}
	if a.sessionID != "" {
		loader.Set("session.id", a.sessionID)
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg := cfg.LoggingOptions()
	logCfg.Output = a.errOut
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logCfg.Output = f
	}
	logging.Init(logCfg)
	a.logger = logging.Component("cli")

	a.cfg = cfg
	a.loader = loader
	return nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

func (a *app) contextStore() *config.ContextStore {
	return config.NewContextStore(a.cfg.ContextPath())
}

// resolveSession picks the session id from the flag or config, then the
// saved context. With create set a fresh id is made and remembered.
func (a *app) resolveSession(create bool) (string, error) {
	if id := a.cfg.Session.ID; id != "" {
		return id, nil
	}
	store := a.contextStore()
	saved, err := store.Load()
	if err != nil {
		return "", err
	}
	if !saved.IsEmpty() {
		return saved.SessionID, nil
	}
	if !create {
		return "", errors.New("no session selected; start one with 'bishma chat' or pass --session")
	}
	id := uuid.NewString()
	return id, a.rememberSession(id)
}

func (a *app) rememberSession(id string) error {
	ctx := &config.Context{}
	ctx.SetSession(id, time.Now().UTC())
	return a.contextStore().Save(ctx)
}

// runtime holds the collaborators shared by every session of one process.
type runtime struct {
	app       *app
	gateway   gateway.Gateway
	extractor extract.Extractor
	publisher *events.InMemoryPublisher
	eventsDB  *db.DB
}

// openRuntime connects the gateway, the extractor and the event log. A
// misconfigured extractor is logged and replaced by one that always fails,
// so local commands still work.
func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	logger := a.logger
	rt := &runtime{app: a}

	var pubOpts []events.PublisherOption
	if a.cfg.Events.Persist {
		database, err := db.Open(db.Config{Path: a.cfg.EventsPath()})
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		if _, err := database.MigrateUp(ctx); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate event log: %w", err)
		}
		rt.eventsDB = database
		pubOpts = append(pubOpts,
			events.WithRepository(db.NewEventRepository(database)),
			events.WithRepositoryErrorHandler(func(err error) {
				logger.Warn().Err(err).Msg("event not recorded")
			}),
		)
	}
	rt.publisher = events.NewInMemoryPublisher(pubOpts...)

	gw, err := a.registry.Open(ctx, a.cfg.Gateway.Backend, a.cfg.GatewayOptions())
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open %s gateway: %w", a.cfg.Gateway.Backend, err)
	}
	rt.gateway = gw

	ex, err := a.newExtractor(a.cfg.ExtractorOptions())
	if err != nil {
		logger.Warn().Err(err).Msg("extractor unavailable")
		ex = extract.Unavailable{}
	}
	rt.extractor = ex
	return rt, nil
}

// Open opens or resumes one session.
func (rt *runtime) Open(ctx context.Context, id string) (*conversation.Orchestrator, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if !sessionIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: session id %q", models.ErrInvalidParameter, id)
	}
	cfg := rt.app.cfg
	sess, err := session.Open(session.Options{
		ID:        id,
		Snapshots: snapshot.NewFileStore(snapshot.PathFor(cfg.SnapshotDir(), id)),
		Publisher: rt.publisher,
	})
	if err != nil {
		return nil, err
	}
	return conversation.New(sess, rt.extractor, rt.gateway,
		conversation.WithAutoPersist(cfg.Conversation.AutoPersist),
		conversation.WithHistoryLimit(cfg.Conversation.HistoryLimit),
		conversation.WithExtractorTimeout(cfg.Extractor.Timeout),
		conversation.WithGatewayTimeout(cfg.Gateway.Timeout),
	), nil
}

// Close releases the gateway and the event log.
func (rt *runtime) Close() error {
	var errs []error
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	if rt.gateway != nil {
		errs = append(errs, rt.gateway.Close())
	}
	if rt.eventsDB != nil {
		errs = append(errs, rt.eventsDB.Close())
	}
	return errors.Join(errs...)
}
