// SPDX-License-Identifier: GPL-2.0-or-later

// Package srec wires the recorder application together.
package srec

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"srec/pkg/control"
	"srec/pkg/log"
	"srec/pkg/record"
	"srec/pkg/storage"
	"srec/pkg/stream/dummy"
	"srec/pkg/system"
	"srec/pkg/web"
)

// Run starts the application and blocks until a fatal error or a
// termination signal.
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
	case signal := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", signal)
	}

	// Flush the active recording before tearing anything down.
	if app.Session.IsRecording() {
		if stopErr := app.Session.Stop(); stopErr != nil {
			app.Logger.Error().Src("app").
				Msgf("could not stop recording: %v", stopErr)
		}
	}

	cancel()
	wg.Wait()
	return err
}

// App is the main application struct.
type App struct {
	WG      *sync.WaitGroup
	Logger  *log.Logger
	logDB   *log.DB
	Env     storage.ConfigEnv
	Session *record.Session
	Storage *storage.Manager
	System  *system.System

	control *control.Server
	web     *web.Server
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	// Environment config.
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	// Logs.
	logger := log.NewLogger(wg)
	logDB := log.NewDB(filepath.Join(env.StorageDir, "logs.db"), wg)

	// Storage.
	storageManager := storage.NewManager(env.StorageDir, logger)

	// Recording session.
	filename := env.Filename
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(env.RecordingsDir(), filename)
	}
	session := record.NewSession(dummy.NewTransport(), logger, filename)

	// System status.
	sys := system.New(storageManager.Usage, logger)

	// Remote control.
	controlServer := control.NewServer(
		session, env.RecordingsDir(), env.ControlPort, logger)

	// Web API.
	mux := web.NewMux(session, sys, logDB, logger)
	webServer := web.NewServer(mux, env.Port, logger)

	return &App{
		WG:      wg,
		Logger:  logger,
		logDB:   logDB,
		Env:     *env,
		Session: session,
		Storage: storageManager,
		System:  sys,

		control: controlServer,
		web:     webServer,
	}, nil
}

func (app *App) run(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		app.Logger.Error().Src("app").
			Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	app.Logger.Info().Src("app").Msg("Starting..")

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}

	if count, err := app.Session.Update(2 * time.Second); err != nil {
		app.Logger.Error().Src("app").Msgf("could not discover streams: %v", err)
	} else {
		app.Logger.Info().Src("app").Msgf("found %v streams", count)
	}

	if err := app.control.Start(ctx, app.WG); err != nil {
		return fmt.Errorf("could not start control server: %w", err)
	}
	if err := app.web.Start(ctx, app.WG); err != nil {
		return fmt.Errorf("could not start web server: %w", err)
	}

	go app.System.StatusLoop(ctx)
	go app.Storage.PurgeLoop(ctx, 10*time.Minute)

	app.Logger.Info().Src("app").Msgf("Serving app on port %v", app.Env.Port)

	<-ctx.Done()
	return nil
}
