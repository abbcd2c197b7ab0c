// Package app wires the rewards services over a shared store.
package app

import (
	"github.com/spitak/steps-rewards/internal/app/services/accrual"
	"github.com/spitak/steps-rewards/internal/app/services/redemption"
	"github.com/spitak/steps-rewards/internal/app/services/users"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/internal/app/storage/memory"
	"github.com/spitak/steps-rewards/pkg/logger"
)

// Application bundles the services behind the HTTP API. All services share
// one store, so every operation sees the same transactional view.
type Application struct {
	Store      storage.Store
	Users      *users.Service
	Accrual    *accrual.Service
	Redemption *redemption.Service

	log *logger.Logger
}

// New constructs an Application on the given store. A nil store falls back to
// the in-memory implementation, which suits tests and local development.
func New(store storage.Store, log *logger.Logger) *Application {
	if store == nil {
		store = memory.New()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}
	return &Application{
		Store:      store,
		Users:      users.New(store, log.WithField("service", "users")),
		Accrual:    accrual.New(store, log.WithField("service", "accrual")),
		Redemption: redemption.New(store, log.WithField("service", "redemption")),
		log:        log,
	}
}

// Logger exposes the application logger for transports built on top.
func (a *Application) Logger() *logger.Logger {
	return a.log
}
