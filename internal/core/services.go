package core

import (
	"github.com/edvin/backupd/internal/adapter"
	"github.com/edvin/backupd/internal/crypto"
	"github.com/edvin/backupd/internal/notify"
)

type Services struct {
	Source      *SourceService
	Destination *DestinationService
	Schedule    *ScheduleService
}

func NewServices(db DB, vault *crypto.Vault, pub notify.Publisher, registry *adapter.Registry) *Services {
	return &Services{
		Source:      NewSourceService(db, vault, registry),
		Destination: NewDestinationService(db, vault, registry),
		Schedule:    NewScheduleService(db, pub),
	}
}
