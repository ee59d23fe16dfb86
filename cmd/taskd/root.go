package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskd/internal/config"
	"taskd/internal/engine"
	"taskd/internal/logging"
	"taskd/internal/manager"
	"taskd/internal/registry"
)

// app is the state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfg     config.Config
	log     zerolog.Logger
	stdout  io.Writer
	stderr  io.Writer
	jsonOut bool
}

// Persistent flags; each is also settable as TASKD_<NAME> with dashes as
// underscores.
var persistentFlags = []string{
	"config", "engine", "model-path", "models-dir", "model", "lib-path",
	"gpu-layers", "threads", "context-size", "max-concurrent",
	"shutdown-timeout-ms", "log-level", "log-format",
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "taskd",
		Short:         "Run cancellable, pollable text generation tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (.yaml, .yml, .json or .toml)")
	pf.String("engine", "", "engine: echo|llama (default echo)")
	pf.String("model-path", "", "model file to load")
	pf.String("models-dir", "", "directory scanned for *.gguf models (default ~/models/llm)")
	pf.String("model", "", "model name in --models-dir, with or without extension")
	pf.String("lib-path", "", "directory holding the llama.cpp shared libraries (default $YZMA_LIB)")
	pf.Int("gpu-layers", 0, "layers to offload to the GPU (-1 = all)")
	pf.Int("threads", 0, "decode threads (0 = engine default)")
	pf.Int("context-size", 0, "per-task context window in tokens (default 2048)")
	pf.Int("max-concurrent", 0, "tasks decoding at once (0 = unbounded)")
	pf.Int("shutdown-timeout-ms", 0, "time to wait for workers on exit (default 5000)")
	pf.String("log-level", "", "log level: off|error|warn|info|debug (default info)")
	pf.String("log-format", "", "log format: json|pretty (default pretty)")
	for _, name := range persistentFlags {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}
	a.v.SetEnvPrefix("TASKD")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(newRunCmd(a), newBatchCmd(a), newModelsCmd(a), newVersionCmd(a))
	return root, a
}

// init resolves the configuration: file, then environment and flags.
func (a *app) init() error {
	var cfg config.Config
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	a.overlayString("engine", &cfg.Engine)
	a.overlayString("model-path", &cfg.ModelPath)
	a.overlayString("models-dir", &cfg.ModelsDir)
	a.overlayString("model", &cfg.Model)
	a.overlayString("lib-path", &cfg.LibPath)
	a.overlayInt("gpu-layers", &cfg.GPULayers)
	a.overlayInt("threads", &cfg.Threads)
	a.overlayInt("context-size", &cfg.ContextSize)
	a.overlayInt("max-concurrent", &cfg.MaxConcurrent)
	a.overlayInt("shutdown-timeout-ms", &cfg.ShutdownTimeoutMS)
	a.overlayString("log-level", &cfg.LogLevel)
	a.overlayString("log-format", &cfg.LogFormat)

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(a.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) overlayString(key string, dst *string) {
	if a.v.IsSet(key) {
		*dst = a.v.GetString(key)
	}
}

func (a *app) overlayInt(key string, dst *int) {
	if a.v.IsSet(key) {
		*dst = a.v.GetInt(key)
	}
}

// openEngine loads the configured engine. A --model name is resolved against
// the models directory first.
func (a *app) openEngine() (engine.Engine, error) {
	path := a.cfg.ModelPath
	if path == "" && a.cfg.Model != "" {
		models, err := registry.LoadDir(a.cfg.ModelsDir)
		if err != nil {
			return nil, exitErr{code: exitModelNotFound, err: fmt.Errorf("list models: %w", err)}
		}
		m, err := registry.Resolve(models, a.cfg.Model)
		if err != nil {
			return nil, exitErr{code: exitModelNotFound, err: err}
		}
		path = m.Path
	}
	start := time.Now()
	eng, err := engine.Open(engine.Options{
		Kind:      a.cfg.Engine,
		ModelPath: path,
		GPULayers: a.cfg.GPULayers,
		Threads:   a.cfg.Threads,
		LibPath:   a.cfg.LibPath,
	})
	if err != nil {
		code := exitError
		if engine.InitStatusOf(err) == engine.InitModelNotFound {
			code = exitModelNotFound
		}
		return nil, exitErr{code: code, err: err}
	}
	a.log.Info().Str("engine", a.cfg.Engine).Str("model", path).Dur("took", time.Since(start)).Msg("engine ready")
	return eng, nil
}

// newManager builds a manager over eng with the configured defaults.
func (a *app) newManager(eng engine.Engine, pub manager.EventPublisher) (*manager.Manager, error) {
	def, err := a.cfg.Sampler.Sampling()
	if err != nil {
		return nil, err
	}
	return manager.New(manager.ManagerConfig{
		Engine:         eng,
		ContextSize:    a.cfg.ContextSize,
		MaxConcurrent:  a.cfg.MaxConcurrent,
		DefaultSampler: &def,
		Publisher:      pub,
		Logger:         &a.log,
	})
}

func (a *app) shutdownTimeout() time.Duration {
	return time.Duration(a.cfg.ShutdownTimeoutMS) * time.Millisecond
}
