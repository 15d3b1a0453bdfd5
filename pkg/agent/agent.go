package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ahihi/nocturnal/internal/bridge"
	"github.com/ahihi/nocturnal/internal/configsvc"
	"github.com/ahihi/nocturnal/internal/surfacesvc"
	"github.com/ahihi/nocturnal/internal/surfacesvc/hidraw"
)

type Agent struct {
	config Config

	db         *badger.DB
	configSvc  *configsvc.Service
	surfaceSvc *surfacesvc.Service
	bridge     *bridge.Bridge
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}

	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	configSvc := configsvc.New(logger.Named("config"))
	hidrawBackend := hidraw.NewBackend(logger.Named("surface.hidraw"))
	surfaceSvc := surfacesvc.New(db, logger.Named("surface"), time.Now,
		surfacesvc.WithBackend("hidraw", hidrawBackend))
	bridgeSvc := bridge.New(logger.Named("bridge"), configSvc, surfaceSvc, config.BridgeConfig)

	return &Agent{
		config:     config,
		db:         db,
		configSvc:  configSvc,
		surfaceSvc: surfaceSvc,
		bridge:     bridgeSvc,
	}, nil
}

func (a *Agent) Close() error {
	return a.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the agent and blocks until the context is cancelled.
// Agent startup will fail if the configuration is not valid.
// In case configuration becomes invalid after the startup, it will remain
// running with the last valid configuration.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.surfaceSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.bridge.Start(groupCtx)
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) Surfaces() *surfacesvc.Service {
	return a.surfaceSvc
}
