// Package curriculum exposes the daily-module provider consumed by the
// session controller. Content authoring itself is an external collaborator;
// this package only defines the contract and a static provider.
package curriculum

import (
	"context"
	"fmt"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// ErrInvalidDay is returned when no module exists for the requested day.
var ErrInvalidDay = &core.Error{
	Type:    core.ErrValidation,
	Code:    "invalid_day",
	Message: "no curriculum module for the requested day",
}

// Provider serves daily curriculum modules.
type Provider interface {
	GetDailyModule(ctx context.Context, userID string, day int) (*types.DailyModule, error)
}

// StaticProvider serves modules from an in-memory map, used for development
// and tests.
type StaticProvider struct {
	modules map[int]types.DailyModule
}

// NewStaticProvider creates a provider over the given modules. A nil map
// yields a small built-in sample curriculum.
func NewStaticProvider(modules map[int]types.DailyModule) *StaticProvider {
	if modules == nil {
		modules = sampleCurriculum()
	}
	return &StaticProvider{modules: modules}
}

// GetDailyModule implements Provider.
func (p *StaticProvider) GetDailyModule(_ context.Context, _ string, day int) (*types.DailyModule, error) {
	module, ok := p.modules[day]
	if !ok {
		return nil, ErrInvalidDay
	}
	if module.DurationMinutes <= 0 || module.DurationMinutes > 50 {
		module.DurationMinutes = 50
	}
	out := module
	return &out, nil
}

func sampleCurriculum() map[int]types.DailyModule {
	out := make(map[int]types.DailyModule, 5)
	for day := 1; day <= 5; day++ {
		out[day] = types.DailyModule{
			Day:             day,
			Topics:          []string{fmt.Sprintf("sample topic %d", day)},
			Concepts:        []string{fmt.Sprintf("concept %d.1", day), fmt.Sprintf("concept %d.2", day)},
			Examples:        []string{fmt.Sprintf("worked example %d", day)},
			Questions:       []string{fmt.Sprintf("question %d.1", day), fmt.Sprintf("question %d.2", day)},
			DurationMinutes: 50,
		}
	}
	return out
}
