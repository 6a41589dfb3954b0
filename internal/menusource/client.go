package menusource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

// maxResponseSize ограничивает размер ответа сервиса меню (10MB).
const maxResponseSize = 10 * 1024 * 1024

// Config описывает подключение к сервису меню.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("menu source: base url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("menu source: invalid base url: %w", err)
	}
	return nil
}

// Client получает меню ресторана из внутреннего сервиса меню.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
	logger     *log.Entry
}

// NewClient создаёт клиента сервиса меню.
func NewClient(cfg Config, logger *log.Entry) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.WithField("component", "menu-source")
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}, nil
}

type itemPayload struct {
	ID           string              `json:"id"`
	RestaurantID string              `json:"restaurant_id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Price        decimal.NullDecimal `json:"price"`
	CategoryID   string              `json:"category_id"`
	Available    *bool               `json:"available"`
	ImageURL     string              `json:"image_url"`
}

// validate проверяет обязательные поля позиции. Цена обязана присутствовать и быть неотрицательной.
func (p itemPayload) validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("item id is required")
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("item %s: name is required", p.ID)
	case strings.TrimSpace(p.CategoryID) == "":
		return fmt.Errorf("item %s: category_id is required", p.ID)
	case !p.Price.Valid:
		return fmt.Errorf("item %s: price is required", p.ID)
	case p.Price.Decimal.IsNegative():
		return fmt.Errorf("item %s: price must be non-negative, got %s", p.ID, p.Price.Decimal)
	}
	return nil
}

type itemsResponse struct {
	Items []itemPayload `json:"items"`
}

type categoriesResponse struct {
	Categories []domain.Category `json:"categories"`
}

// Fetch загружает позиции и категории. Любой сбой возвращается как *domain.SyncFailure вида FETCH.
func (c *Client) Fetch(ctx context.Context, restaurantID string) (domain.Menu, error) {
	if strings.TrimSpace(restaurantID) == "" {
		return domain.Menu{}, domain.NewFetchError(0, domain.ErrRestaurantRequired)
	}
	base := "/restaurants/" + url.PathEscape(restaurantID)

	var items itemsResponse
	if err := c.getJSON(ctx, base+"/items", &items); err != nil {
		return domain.Menu{}, err
	}
	var categories categoriesResponse
	if err := c.getJSON(ctx, base+"/categories", &categories); err != nil {
		return domain.Menu{}, err
	}

	menu := domain.Menu{
		RestaurantID: restaurantID,
		Items:        make([]domain.MenuItem, 0, len(items.Items)),
		Categories:   categories.Categories,
		FetchedAt:    c.now(),
	}
	for _, raw := range items.Items {
		if err := raw.validate(); err != nil {
			return domain.Menu{}, domain.NewFetchError(http.StatusOK, fmt.Errorf("invalid menu data: %w", err))
		}
		item := domain.MenuItem{
			ID:           raw.ID,
			RestaurantID: raw.RestaurantID,
			Name:         raw.Name,
			Description:  raw.Description,
			Price:        raw.Price.Decimal,
			CategoryID:   raw.CategoryID,
			Available:    raw.Available == nil || *raw.Available,
			ImageURL:     raw.ImageURL,
		}
		if item.RestaurantID == "" {
			item.RestaurantID = restaurantID
		}
		menu.Items = append(menu.Items, item)
	}
	for i := range menu.Categories {
		if strings.TrimSpace(menu.Categories[i].ID) == "" {
			return domain.Menu{}, domain.NewFetchError(http.StatusOK, errors.New("invalid menu data: category id is required"))
		}
		if menu.Categories[i].RestaurantID == "" {
			menu.Categories[i].RestaurantID = restaurantID
		}
	}

	c.logger.WithFields(log.Fields{
		"restaurant_id": restaurantID,
		"items":         len(menu.Items),
		"categories":    len(menu.Categories),
	}).Debug("menu fetched")
	return menu, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.NewFetchError(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewFetchError(0, fmt.Errorf("GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.NewFetchError(resp.StatusCode, fmt.Errorf("read %s: %w", path, err))
	}
	if resp.StatusCode != http.StatusOK {
		return domain.NewFetchError(resp.StatusCode, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewFetchError(resp.StatusCode, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

var _ domain.MenuSource = (*Client)(nil)
