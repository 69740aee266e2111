package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time.Now so expiry logic is testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func NewSystemClock() *SystemClock { return &SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now().UTC() }

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return NewSystemClock() }),
)
