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
	UberEatsDefaultBaseURL = "https://api.uber.com"
	UberEatsDefaultAuthURL = "https://login.uber.com"
	uberEatsScope          = "eats.store"
)

var (
	ErrUberEatsMissingClientID     = errors.New("ubereats: client id is required")
	ErrUberEatsMissingClientSecret = errors.New("ubereats: client secret is required")
)

// UberEatsConfig — параметры подключения к Uber Eats.
type UberEatsConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	AuthURL      string
	// StoreIDs сопоставляет ресторан с идентификатором магазина Uber Eats.
	// Без записи используется идентификатор ресторана.
	StoreIDs map[string]string
}

// Validate проверяет конфигурацию и выставляет адреса по умолчанию.
func (c *UberEatsConfig) Validate() error {
	if c.ClientID == "" {
		return ErrUberEatsMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrUberEatsMissingClientSecret
	}
	if c.BaseURL == "" {
		c.BaseURL = UberEatsDefaultBaseURL
	}
	if c.AuthURL == "" {
		c.AuthURL = UberEatsDefaultAuthURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.AuthURL = strings.TrimRight(c.AuthURL, "/")
	return nil
}

func (c UberEatsConfig) storeID(restaurantID string) string {
	if id, ok := c.StoreIDs[restaurantID]; ok && id != "" {
		return id
	}
	return restaurantID
}

// UberEatsAdapter публикует меню в Uber Eats.
type UberEatsAdapter struct {
	config UberEatsConfig
	client *apiClient
	tokens tokenCache
}

// NewUberEatsAdapter создаёт адаптер Uber Eats.
func NewUberEatsAdapter(config UberEatsConfig, opts HTTPOptions) (*UberEatsAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &UberEatsAdapter{
		config: config,
		client: newAPIClient(domain.PlatformUberEats, opts),
	}, nil
}

func (a *UberEatsAdapter) Platform() domain.Platform {
	return domain.PlatformUberEats
}

type uberText struct {
	Translations map[string]string `json:"translations"`
}

func englishText(value string) uberText {
	return uberText{Translations: map[string]string{"en_us": value}}
}

type uberPayload struct {
	Menus      []uberMenu     `json:"menus"`
	Categories []uberCategory `json:"categories"`
	Items      []uberItem     `json:"items"`
}

type uberMenu struct {
	ID          string   `json:"id"`
	Title       uberText `json:"title"`
	CategoryIDs []string `json:"category_ids"`
}

type uberCategory struct {
	ID       string       `json:"id"`
	Title    uberText     `json:"title"`
	Entities []uberEntity `json:"entities"`
}

type uberEntity struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type uberItem struct {
	ID          string        `json:"id"`
	Title       uberText      `json:"title"`
	Description uberText      `json:"description"`
	PriceInfo   uberPriceInfo `json:"price_info"`
	ImageURL    string        `json:"image_url,omitempty"`
}

type uberPriceInfo struct {
	Price int64 `json:"price"`
}

// Format строит структуру menus/categories/items. Пустые категории не публикуются.
func (a *UberEatsAdapter) Format(items []domain.MenuItem, categories []domain.Category) (domain.FormattedMenu, error) {
	sorted := append([]domain.Category(nil), categories...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	index := domain.CategoryIndex(categories)
	entities := make(map[string][]uberEntity, len(sorted))
	payload := uberPayload{Items: make([]uberItem, 0, len(items))}
	for _, item := range items {
		if !item.Available {
			continue
		}
		if item.CategoryID == "" {
			return domain.FormattedMenu{}, fmt.Errorf("ubereats: item %s has no category", item.ID)
		}
		if _, ok := index[item.CategoryID]; !ok {
			return domain.FormattedMenu{}, fmt.Errorf("ubereats: item %s references unknown category %q", item.ID, item.CategoryID)
		}
		if item.Price.IsNegative() {
			return domain.FormattedMenu{}, fmt.Errorf("ubereats: item %s has negative price %s", item.ID, item.Price)
		}
		entities[item.CategoryID] = append(entities[item.CategoryID], uberEntity{ID: item.ID, Type: "ITEM"})
		payload.Items = append(payload.Items, uberItem{
			ID:          item.ID,
			Title:       englishText(item.Name),
			Description: englishText(item.Description),
			PriceInfo:   uberPriceInfo{Price: item.PriceCents()},
			ImageURL:    item.ImageURL,
		})
	}
	if len(payload.Items) == 0 {
		return domain.FormattedMenu{}, errors.New("ubereats: menu has no available items")
	}

	menu := uberMenu{ID: "all-day", Title: englishText("Menu"), CategoryIDs: make([]string, 0, len(sorted))}
	for _, c := range sorted {
		if len(entities[c.ID]) == 0 {
			continue
		}
		menu.CategoryIDs = append(menu.CategoryIDs, c.ID)
		payload.Categories = append(payload.Categories, uberCategory{
			ID:       c.ID,
			Title:    englishText(c.Name),
			Entities: entities[c.ID],
		})
		delete(entities, c.ID)
	}
	payload.Menus = []uberMenu{menu}

	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.FormattedMenu{}, fmt.Errorf("ubereats: marshal menu: %w", err)
	}
	return domain.FormattedMenu{Platform: domain.PlatformUberEats, Payload: raw, ItemCount: len(payload.Items)}, nil
}

// Publish заменяет меню магазина целиком.
func (a *UberEatsAdapter) Publish(ctx context.Context, restaurantID string, menu domain.FormattedMenu) domain.PublishResult {
	return safePublish(a.client.logger, func() domain.PublishResult {
		token, err := a.tokens.get(ctx, a.fetchToken)
		if err != nil {
			a.client.logger.WithError(err).WithField("restaurant_id", restaurantID).Warn("ubereats auth failed")
			return transportFailure(err)
		}

		endpoint := fmt.Sprintf("%s/v2/eats/stores/%s/menus", a.config.BaseURL, url.PathEscape(a.config.storeID(restaurantID)))
		resp, err := a.client.putJSON(ctx, "menu", endpoint, menu.Payload, map[string]string{
			"Authorization": "Bearer " + token,
		})
		if err != nil {
			return transportFailure(err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			a.tokens.invalidate()
		}
		if !resp.ok() {
			return failedResult(resp, fmt.Sprintf("ubereats menu upload failed with status %d", resp.StatusCode))
		}
		return domain.PublishResult{
			Success:        true,
			StatusCode:     resp.StatusCode,
			ExternalMenuID: externalMenuID(resp.Body),
			Message:        "menu published",
		}
	})
}

func (a *UberEatsAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	return a.client.fetchClientCredentialsToken(ctx, a.config.AuthURL+"/oauth/v2/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.config.ClientID},
		"client_secret": {a.config.ClientSecret},
		"scope":         {uberEatsScope},
	})
}

var _ domain.PlatformAdapter = (*UberEatsAdapter)(nil)
