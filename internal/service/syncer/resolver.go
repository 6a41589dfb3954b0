package syncer

import (
	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// StaticPlatformResolver выбирает платформы ресторана из конфигурации:
// персональный список, если он задан, иначе список по умолчанию.
type StaticPlatformResolver struct {
	Default   []domain.Platform
	Overrides map[string][]domain.Platform
}

// PlatformsFor возвращает платформы, сконфигурированные для ресторана.
func (r StaticPlatformResolver) PlatformsFor(restaurantID string) []domain.Platform {
	if platforms, ok := r.Overrides[restaurantID]; ok {
		return append([]domain.Platform(nil), platforms...)
	}
	return append([]domain.Platform(nil), r.Default...)
}

var _ domain.PlatformResolver = StaticPlatformResolver{}
