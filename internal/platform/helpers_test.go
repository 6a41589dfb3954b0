package platform

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

func sampleMenu(t *testing.T, items int) ([]domain.MenuItem, []domain.Category) {
	t.Helper()

	categories := []domain.Category{
		{ID: "drinks", Name: "Drinks", SortOrder: 2},
		{ID: "mains", Name: "Mains", SortOrder: 1},
	}
	result := make([]domain.MenuItem, 0, items)
	for i := 0; i < items; i++ {
		category := "mains"
		if i%2 == 1 {
			category = "drinks"
		}
		result = append(result, domain.MenuItem{
			ID:         fmt.Sprintf("item-%d", i),
			Name:       fmt.Sprintf("Dish %d", i),
			Price:      decimal.RequireFromString("10.99"),
			CategoryID: category,
			Available:  true,
		})
	}
	return result, categories
}
