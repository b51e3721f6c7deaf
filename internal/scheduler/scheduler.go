package scheduler

import (
	"time"

	"github.com/mdouchement/fileshare/internal/chunk"
	"github.com/mdouchement/fileshare/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// A Controller is an Iversion Of Control pattern used to init the scheduler package.
type Controller struct {
	Logger        logger.Logger
	Assembler     *chunk.Assembler
	Storage       storage.Store
	SessionTTL    time.Duration
	Specification string
}

// Start lauches the scheduler asynchronously.
func Start(c Controller) (*cron.Cron, error) {
	cron := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	log := c.Logger.WithPrefix("[scheduler]")

	_, err := cron.AddFunc(c.Specification, func() {
		Sweep(c)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", c.Specification)
	}
	log.Infof("Sweep task registred (%s)", c.Specification)

	cron.Start()
	log.Info("Scheduler is running")
	return cron, nil
}

// Sweep removes abandoned chunked upload sessions and storage artifacts.
func Sweep(c Controller) {
	log := c.Logger.WithPrefix("[sweep]")

	removed, err := c.Assembler.Sweep(c.SessionTTL)
	for _, name := range removed {
		log.Infof("Removed stale upload %s", name)
	}
	if err != nil {
		log.Error(err)
		return
	}

	log.Debug("Storage cleanup")
	err = c.Storage.Cleanup()
	if err != nil {
		log.Error(err)
		return
	}
}
