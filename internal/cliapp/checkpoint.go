package cliapp

import (
	"github.com/lapesd/faultsolve/internal/checkpoint/buddy"
	"github.com/lapesd/faultsolve/internal/checkpoint/store"
	"github.com/lapesd/faultsolve/internal/driver"
	"github.com/lapesd/faultsolve/internal/fabric"
	"github.com/lapesd/faultsolve/pkg/config"
)

// BuildCheckpoint selects and wires one of the two checkpoint backends
// per cfg.Checkpoint.Buddy. backend is only consulted for the external
// store variant; a buddy-checkpoint run can pass nil.
func BuildCheckpoint(cfg *config.Config, backend store.Backend, world fabric.World, rank int, debug bool) driver.Checkpoint {
	if cfg.Checkpoint.Buddy {
		return &driver.BuddyCheckpoint{
			Ring:     &buddy.Ring{World: world},
			Interval: cfg.Checkpoint.Interval,
		}
	}
	return &driver.StoreCheckpoint{
		Store:            &store.Store{Backend: backend, Rank: rank},
		Interval:         cfg.Checkpoint.Interval,
		Debug:            debug,
		UseStoreDecision: cfg.Checkpoint.UseStoreNeedCheckpoint,
	}
}
