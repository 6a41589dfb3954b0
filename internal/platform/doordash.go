package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const (
	DoorDashProductionURL = "https://openapi.doordash.com"
	DoorDashSandboxURL    = "https://openapi-sandbox.doordash.com"
)

var (
	ErrDoorDashMissingClientID     = errors.New("doordash: client id is required")
	ErrDoorDashMissingClientSecret = errors.New("doordash: client secret is required")
)

// DoorDashConfig — параметры подключения к DoorDash.
type DoorDashConfig struct {
	ClientID     string
	ClientSecret string
	// Environment: sandbox (по умолчанию) или production.
	Environment string
	// BaseURL переопределяет адрес API, выбранный по Environment.
	BaseURL string
}

// Validate проверяет конфигурацию и выставляет адрес API по окружению.
func (c *DoorDashConfig) Validate() error {
	if c.ClientID == "" {
		return ErrDoorDashMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrDoorDashMissingClientSecret
	}
	if c.BaseURL == "" {
		if strings.EqualFold(c.Environment, "production") {
			c.BaseURL = DoorDashProductionURL
		} else {
			c.BaseURL = DoorDashSandboxURL
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return nil
}

// DoorDashAdapter публикует меню в DoorDash.
type DoorDashAdapter struct {
	config DoorDashConfig
	client *apiClient
	tokens tokenCache
}

// NewDoorDashAdapter создаёт адаптер DoorDash.
func NewDoorDashAdapter(config DoorDashConfig, opts HTTPOptions) (*DoorDashAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &DoorDashAdapter{
		config: config,
		client: newAPIClient(domain.PlatformDoorDash, opts),
	}, nil
}

func (a *DoorDashAdapter) Platform() domain.Platform {
	return domain.PlatformDoorDash
}

type doordashPayload struct {
	Menu doordashMenu `json:"menu"`
}

type doordashMenu struct {
	Categories []doordashCategory `json:"categories"`
	Items      []doordashItem     `json:"items"`
}

type doordashCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

type doordashItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	CategoryID  string `json:"category_id"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Format оставляет только доступные позиции, переводит цены в центы
// и сортирует категории по sort_order.
func (a *DoorDashAdapter) Format(items []domain.MenuItem, categories []domain.Category) (domain.FormattedMenu, error) {
	index := domain.CategoryIndex(categories)

	sorted := append([]domain.Category(nil), categories...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	available := domain.AvailableItems(items)
	payload := doordashPayload{Menu: doordashMenu{
		Categories: make([]doordashCategory, 0, len(sorted)),
		Items:      make([]doordashItem, 0, len(available)),
	}}
	for _, c := range sorted {
		payload.Menu.Categories = append(payload.Menu.Categories, doordashCategory{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			SortOrder:   c.SortOrder,
		})
	}
	for _, item := range available {
		if item.Price.IsNegative() {
			return domain.FormattedMenu{}, fmt.Errorf("doordash: item %s has negative price %s", item.ID, item.Price)
		}
		if _, ok := index[item.CategoryID]; !ok {
			return domain.FormattedMenu{}, fmt.Errorf("doordash: item %s references unknown category %q", item.ID, item.CategoryID)
		}
		payload.Menu.Items = append(payload.Menu.Items, doordashItem{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.PriceCents(),
			CategoryID:  item.CategoryID,
			ImageURL:    item.ImageURL,
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.FormattedMenu{}, fmt.Errorf("doordash: marshal menu: %w", err)
	}
	return domain.FormattedMenu{Platform: domain.PlatformDoorDash, Payload: raw, ItemCount: len(payload.Menu.Items)}, nil
}

// Publish получает токен и заменяет меню магазина ext_{restaurant_id}.
func (a *DoorDashAdapter) Publish(ctx context.Context, restaurantID string, menu domain.FormattedMenu) domain.PublishResult {
	return safePublish(a.client.logger, func() domain.PublishResult {
		token, err := a.tokens.get(ctx, a.fetchToken)
		if err != nil {
			a.client.logger.WithError(err).WithField("restaurant_id", restaurantID).Warn("doordash auth failed")
			return transportFailure(err)
		}

		endpoint := fmt.Sprintf("%s/v1/stores/%s/menu", a.config.BaseURL, url.PathEscape("ext_"+restaurantID))
		resp, err := a.client.putJSON(ctx, "menu", endpoint, menu.Payload, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if err != nil {
			return transportFailure(err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			a.tokens.invalidate()
		}
		if resp.StatusCode != http.StatusOK {
			return failedResult(resp, fmt.Sprintf("doordash menu update failed with status %d", resp.StatusCode))
		}
		return domain.PublishResult{
			Success:        true,
			StatusCode:     resp.StatusCode,
			ExternalMenuID: externalMenuID(resp.Body),
			Message:        "menu published",
		}
	})
}

func (a *DoorDashAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	return a.client.fetchClientCredentialsToken(ctx, a.config.BaseURL+"/auth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.config.ClientID},
		"client_secret": {a.config.ClientSecret},
	})
}

var _ domain.PlatformAdapter = (*DoorDashAdapter)(nil)
