package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const (
	GrubhubDefaultBaseURL = "https://api-gtm.grubhub.com"
	grubhubPartnerHeader  = "X-GH-Partner-Key"
	grubhubOtherSectionID = "uncategorized"
)

var ErrGrubhubMissingAPIKey = errors.New("grubhub: partner api key is required")

// GrubhubConfig — параметры подключения к Grubhub.
type GrubhubConfig struct {
	APIKey  string
	BaseURL string
	// MerchantIDs сопоставляет ресторан с merchant id. Без записи используется идентификатор ресторана.
	MerchantIDs map[string]string
}

// Validate проверяет конфигурацию.
func (c *GrubhubConfig) Validate() error {
	if c.APIKey == "" {
		return ErrGrubhubMissingAPIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = GrubhubDefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

func (c GrubhubConfig) merchantID(restaurantID string) string {
	if id, ok := c.MerchantIDs[restaurantID]; ok && id != "" {
		return id
	}
	return restaurantID
}

// GrubhubAdapter публикует меню в Grubhub.
type GrubhubAdapter struct {
	config GrubhubConfig
	client *apiClient
}

// NewGrubhubAdapter создаёт адаптер Grubhub.
func NewGrubhubAdapter(config GrubhubConfig, opts HTTPOptions) (*GrubhubAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &GrubhubAdapter{
		config: config,
		client: newAPIClient(domain.PlatformGrubhub, opts),
	}, nil
}

func (a *GrubhubAdapter) Platform() domain.Platform {
	return domain.PlatformGrubhub
}

type grubhubPayload struct {
	Sections []grubhubSection `json:"sections"`
}

type grubhubSection struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	SortOrder   int           `json:"sort_order"`
	Items       []grubhubItem `json:"items"`
}

type grubhubItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Format раскладывает доступные позиции по секциям. Позиции без известной
// категории попадают в секцию "Other" в конце меню.
func (a *GrubhubAdapter) Format(items []domain.MenuItem, categories []domain.Category) (domain.FormattedMenu, error) {
	sorted := append([]domain.Category(nil), categories...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	sections := make([]grubhubSection, 0, len(sorted)+1)
	position := make(map[string]int, len(sorted))
	for _, c := range sorted {
		if strings.TrimSpace(c.Name) == "" {
			return domain.FormattedMenu{}, fmt.Errorf("grubhub: category %s has empty name", c.ID)
		}
		position[c.ID] = len(sections)
		sections = append(sections, grubhubSection{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			SortOrder:   c.SortOrder,
			Items:       []grubhubItem{},
		})
	}

	var other []grubhubItem
	count := 0
	for _, item := range items {
		if !item.Available {
			continue
		}
		if item.Price.IsNegative() {
			return domain.FormattedMenu{}, fmt.Errorf("grubhub: item %s has negative price %s", item.ID, item.Price)
		}
		entry := grubhubItem{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.Price.StringFixed(2),
			ImageURL:    item.ImageURL,
		}
		count++
		if idx, ok := position[item.CategoryID]; ok {
			sections[idx].Items = append(sections[idx].Items, entry)
			continue
		}
		other = append(other, entry)
	}
	if len(other) > 0 {
		sections = append(sections, grubhubSection{ID: grubhubOtherSectionID, Name: "Other", SortOrder: len(sections), Items: other})
	}

	raw, err := json.Marshal(grubhubPayload{Sections: sections})
	if err != nil {
		return domain.FormattedMenu{}, fmt.Errorf("grubhub: marshal menu: %w", err)
	}
	return domain.FormattedMenu{Platform: domain.PlatformGrubhub, Payload: raw, ItemCount: count}, nil
}

// Publish заменяет меню мерчанта с ключом партнёра.
func (a *GrubhubAdapter) Publish(ctx context.Context, restaurantID string, menu domain.FormattedMenu) domain.PublishResult {
	return safePublish(a.client.logger, func() domain.PublishResult {
		endpoint := fmt.Sprintf("%s/pos/v1/merchant/%s/menu", a.config.BaseURL, url.PathEscape(a.config.merchantID(restaurantID)))
		resp, err := a.client.putJSON(ctx, "menu", endpoint, menu.Payload, map[string]string{
			grubhubPartnerHeader: a.config.APIKey,
		})
		if err != nil {
			return transportFailure(err)
		}
		if !resp.ok() {
			return failedResult(resp, fmt.Sprintf("grubhub menu update failed with status %d", resp.StatusCode))
		}
		return domain.PublishResult{
			Success:        true,
			StatusCode:     resp.StatusCode,
			ExternalMenuID: externalMenuID(resp.Body),
			Message:        "menu published",
		}
	})
}

var _ domain.PlatformAdapter = (*GrubhubAdapter)(nil)
