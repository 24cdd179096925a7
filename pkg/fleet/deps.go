package fleet

import (
	"context"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/monitor"
	"github.com/shiftwatch/shiftwatch/pkg/notify"
	"github.com/shiftwatch/shiftwatch/pkg/scraper"
)

// Store is the slice of the database layer the fleet depends on.
// *db.UserStore satisfies it; tests use an in-memory fake.
type Store interface {
	ListUserNames(ctx context.Context) ([]string, error)
	GetUserByName(ctx context.Context, name string) (*db.User, error)
	EffectiveProperties(ctx context.Context, user *db.User) (*db.GeneralProperties, error)
	DefaultProperties(ctx context.Context) (*db.GeneralProperties, error)
	UpdateUserTimestamps(ctx context.Context, id int32, update db.TimestampUpdate) error
	UpdateDisplayName(ctx context.Context, id int32, displayName db.Secret) error
	DeleteUser(ctx context.Context, id int32) error
}

var _ Store = (*db.UserStore)(nil)

type Metrics interface {
	ObserveInstances(count int)
	ObserveRun(exitCode string)
	ObserveReconcile(added, refreshed, removed int)
}

// Deps carries everything an instance needs; shared across the fleet.
type Deps struct {
	Store    Store
	Scraper  scraper.Scraper
	Notifier notify.Notifier
	Monitors monitor.Client
	Clock    common.Clock
	Metrics  Metrics
}
