package config

import (
	"errors"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/vasari/engine/core"
)

// Config is the device tuning file. Every field has a working default so an
// absent file is not an error.
type Config struct {
	// Which native backend the instance selects at creation. One of
	// "software", "vulkan".
	Backend  string        `toml:"backend"`
	LogLevel core.LogLevel `toml:"log_level"`

	Registers RegistersConfig `toml:"registers"`
	Heaps     HeapsConfig     `toml:"heaps"`
	GC        GCConfig        `toml:"gc"`
}

// RegistersConfig caps the flat-register address spaces. The UAV cap also
// anchors the top-down graphics allocation.
type RegistersConfig struct {
	MaxUniformBuffers uint32 `toml:"max_uniform_buffers"`
	MaxSampledImages  uint32 `toml:"max_sampled_images"`
	MaxSamplers       uint32 `toml:"max_samplers"`
	MaxStorageSlots   uint32 `toml:"max_storage_slots"`
}

// HeapsConfig sizes the descriptor heaps on heap/table backends.
type HeapsConfig struct {
	ResourceDescriptors uint32 `toml:"resource_descriptors"`
	SamplerDescriptors  uint32 `toml:"sampler_descriptors"`
}

type GCConfig struct {
	// Capacity of the deferred-destruction queue.
	QueueSize int `toml:"queue_size"`
}

func Default() *Config {
	return &Config{
		Backend:  "software",
		LogLevel: core.LogLevelInfo,
		Registers: RegistersConfig{
			MaxUniformBuffers: 14,
			MaxSampledImages:  128,
			MaxSamplers:       16,
			MaxStorageSlots:   64,
		},
		Heaps: HeapsConfig{
			ResourceDescriptors: 1_000_000,
			SamplerDescriptors:  2048,
		},
		GC: GCConfig{
			QueueSize: 4096,
		},
	}
}

// Load reads a TOML tuning file over the defaults. A missing file returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		core.LogError("failed to parse config file '%s': %s", path, err.Error())
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}

// Watcher reloads the tuning file whenever it changes on disk and fires
// EVENT_CODE_CONFIG_RELOADED with the path in the context.
type Watcher struct {
	path string

	mutex    sync.RWMutex
	current  *Config
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	isClosed bool
}

func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		current:  cfg,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	if err := fsWatch.Add(path); err != nil {
		// Watching a file that does not exist yet is not fatal, the
		// defaults stay active.
		core.LogWarn("config watcher could not watch '%s': %s", path, err.Error())
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogWarn("config reload failed, keeping previous values: %s", err.Error())
				continue
			}
			w.mutex.Lock()
			w.current = cfg
			w.mutex.Unlock()

			ctx := core.EventContext{}
			ctx.Data.C[0] = w.path
			core.EventFire(core.EVENT_CODE_CONFIG_RELOADED, w, ctx)
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogWarn("config watcher error: %s", err.Error())
		}
	}
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}
