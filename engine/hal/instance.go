/*
Package hal is the portable graphics/compute layer: one command model, one
resource binding model, one synchronization model, flattened onto whichever
native backend the instance was configured with. All validation and
bookkeeping lives here; the backend shims only translate already validated
work into driver calls.
*/
package hal

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vasari/engine/config"
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/native"
	"github.com/spaghettifunk/vasari/engine/hal/software"
	"github.com/spaghettifunk/vasari/engine/hal/vulkan"
)

// Instance owns the process-wide native handles. Create one at startup, pass
// it by reference into device creation, tear it down at shutdown; there is no
// implicit global state behind it.
type Instance struct {
	ID      uuid.UUID
	AppName string

	cfg *config.Config
}

func NewInstance(appName string, cfg *config.Config) (*Instance, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := core.MetricsInitialize(); err != nil {
		return nil, err
	}
	core.EventSystemInitialize()

	i := &Instance{
		ID:      uuid.New(),
		AppName: appName,
		cfg:     cfg,
	}
	core.LogInfo("instance %s created for '%s' (backend=%s)", i.ID, appName, cfg.Backend)
	return i, nil
}

// CreateDevice opens a device on the configured backend.
func (i *Instance) CreateDevice() (*Device, error) {
	var backend native.Backend
	var err error

	switch i.cfg.Backend {
	case "", "software":
		backend = software.New()
	case "vulkan":
		backend, err = vulkan.New(i.AppName)
		if err != nil {
			core.LogError("vulkan backend unavailable: %s", err.Error())
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown backend '%s'", core.ErrUnsupportedUsage, i.cfg.Backend)
	}

	return newDevice(i, backend)
}

func (i *Instance) Shutdown() {
	core.EventSystemShutdown()
	core.LogInfo("instance %s shut down", i.ID)
}
