// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/config"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/logging"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/ollama"
	"github.com/jeranaias/offchat/internal/session"
	"github.com/jeranaias/offchat/internal/storage"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/whisper"
)

// shutdownTimeout bounds unloading engines on exit.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// APP STATE
// =============================================================================

// app is the state shared by every command: flags, configuration and the
// logger. It is filled in by the root command's PersistentPreRunE.
type app struct {
	configPath string
	logLevel   string
	jsonMode   bool
	noColor    bool
	verbose    bool

	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// resolveConfigPath returns --config or the default location.
func (a *app) resolveConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.Path()
}

// load reads the configuration and opens the log. console mirrors logs to
// stderr, which the full screen chat cannot tolerate.
func (a *app) load(console bool) error {
	path, err := a.resolveConfigPath()
	if err != nil {
		return &ConfigError{Err: err}
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Options{
		Level:   level,
		File:    cfg.LogFile(),
		Console: console,
		Stderr:  a.stderr,
	})
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	a.log = logger
	a.logCloser = closer
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

// settingsFile is settings.toml beside the configuration file.
func (a *app) settingsFile() (*config.SettingsFile, error) {
	if a.configPath != "" {
		return config.NewSettingsFile(filepath.Join(filepath.Dir(a.configPath), "settings.toml")), nil
	}
	path, err := config.SettingsPath()
	if err != nil {
		return nil, err
	}
	return config.NewSettingsFile(path), nil
}

// =============================================================================
// ENGINES AND STORES
// =============================================================================

func (a *app) newLanguageModel() *ollama.Engine {
	cc := ollama.DefaultConfig()
	cc.BaseURL = a.cfg.Engine.OllamaURL
	cc.Timeout = a.cfg.EngineTimeout()
	cc.LoadTimeout = a.cfg.LoadTimeout()
	cc.StartIfNeeded = a.cfg.Engine.StartIfNeeded
	cc.Logger = a.log
	client := ollama.NewClientWithConfig(cc)
	return ollama.NewEngine(client, ollama.EngineConfig{KeepAlive: a.cfg.Engine.KeepAlive}, a.log)
}

func (a *app) newSpeech() (*whisper.Engine, error) {
	dir, err := a.cfg.WhisperModelsDir()
	if err != nil {
		return nil, err
	}
	wc := whisper.Config{
		ServerURL:    a.cfg.Speech.ServerURL,
		ModelsDir:    dir,
		ModelBaseURL: a.cfg.Speech.ModelBaseURL,
		Language:     a.cfg.Speech.Language,
		Timeout:      a.cfg.SpeechTimeout(),
	}
	if len(a.cfg.Speech.Recorder) > 0 {
		wc.Recorder = a.cfg.Speech.Recorder
	}
	return whisper.New(wc, a.log), nil
}

func (a *app) historyPath() (string, error) {
	dir, err := a.cfg.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

func (a *app) openArchive() (*storage.Archive, error) {
	path, err := a.historyPath()
	if err != nil {
		return nil, err
	}
	return storage.Open(path)
}

func (a *app) usageStorage() (*telemetry.Storage, error) {
	dir, err := a.cfg.DataDir()
	if err != nil {
		return nil, err
	}
	return telemetry.NewStorage(filepath.Join(dir, "usage"))
}

// =============================================================================
// SESSION
// =============================================================================

// liveSession is a started session plus everything that must be released with
// it.
type liveSession struct {
	sess    *session.Session
	archive *storage.Archive
	log     zerolog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// startSession wires engines, stores and settings into a session, starts
// engine loading and watches settings.toml for outside edits.
func (a *app) startSession(ctx context.Context) (*liveSession, error) {
	speech, err := a.newSpeech()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	file, err := a.settingsFile()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	deps := session.Deps{
		Model:    a.newLanguageModel(),
		Speech:   speech,
		Settings: file,
		Storage: lifecycle.StorageCheck{
			Dir:       a.cfg.OllamaModelsDir(),
			MinFreeMB: a.cfg.Storage.MinFreeMB,
		},
		Logger: a.log,
	}

	rt := &liveSession{log: a.log, done: make(chan struct{})}
	if a.cfg.Storage.ArchiveOnClear {
		archive, err := a.openArchive()
		if err != nil {
			a.log.Warn().Err(err).Msg("history unavailable, cleared chats will not be kept")
		} else {
			rt.archive = archive
			deps.Archive = archive
		}
	}
	if a.cfg.Storage.TrackUsage {
		store, err := a.usageStorage()
		if err != nil {
			a.log.Warn().Err(err).Msg("usage statistics will not be saved")
		} else {
			deps.Usage = telemetry.NewTracker(store)
		}
	}

	if err := os.MkdirAll(filepath.Dir(file.Path()), 0o700); err != nil {
		return nil, &ConfigError{Err: err}
	}

	rt.sess = session.New(deps)
	rt.sess.Start(ctx)

	wctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	go func() {
		defer close(rt.done)
		err := config.WatchSettings(wctx, file, config.DefaultDebounce, a.log, func(s model.Settings) {
			if err := rt.sess.UpdateSettings(s); err != nil {
				a.log.Warn().Err(err).Msg("ignoring invalid settings file")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Msg("settings watcher stopped")
		}
	}()
	return rt, nil
}

// stop closes the session with a bounded timeout and releases stores.
func (rt *liveSession) stop() error {
	rt.cancel()
	<-rt.done

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := rt.sess.Close(ctx)
	if rt.archive != nil {
		if cerr := rt.archive.Close(); cerr != nil {
			rt.log.Warn().Err(cerr).Msg("closing history")
		}
	}
	return err
}

// input returns stdin unless a test replaced it.
func (a *app) input() io.Reader {
	if a.stdin != nil {
		return a.stdin
	}
	return os.Stdin
}
