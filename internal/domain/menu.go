package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem описывает позицию меню в том виде, в котором её отдаёт сервис меню.
type MenuItem struct {
	ID           string          `json:"id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Price        decimal.Decimal `json:"price"`
	CategoryID   string          `json:"category_id"`
	Available    bool            `json:"available"`
	ImageURL     string          `json:"image_url,omitempty"`
}

// PriceCents возвращает цену в центах (минимальных единицах валюты).
func (i MenuItem) PriceCents() int64 {
	return i.Price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Category описывает категорию меню.
type Category struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurant_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SortOrder    int    `json:"sort_order"`
}

// Menu — полный снимок меню ресторана на момент выборки.
type Menu struct {
	RestaurantID string
	Items        []MenuItem
	Categories   []Category
	FetchedAt    time.Time
}

// AvailableItems возвращает только доступные для заказа позиции.
func AvailableItems(items []MenuItem) []MenuItem {
	result := make([]MenuItem, 0, len(items))
	for _, item := range items {
		if item.Available {
			result = append(result, item)
		}
	}
	return result
}

// CategoryIndex строит индекс категорий по идентификатору.
func CategoryIndex(categories []Category) map[string]Category {
	index := make(map[string]Category, len(categories))
	for _, c := range categories {
		index[c.ID] = c
	}
	return index
}
