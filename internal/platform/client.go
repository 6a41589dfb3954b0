package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/metrics"
)

const (
	// maxResponseSize ограничивает размер ответа API платформы (1MB).
	maxResponseSize = 1 << 20
	// tokenExpiryMargin — запас до истечения токена, после которого он обновляется.
	tokenExpiryMargin = 30 * time.Second
	maxMessageLength  = 256
)

// HTTPOptions — общие параметры HTTP-клиента адаптера.
type HTTPOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Metrics           *metrics.SyncMetrics
	Logger            *log.Entry
	// Client подменяет HTTP-клиент (тесты).
	Client *http.Client
}

// apiClient — HTTP-клиент одного адаптера со своим лимитером запросов.
type apiClient struct {
	platform   domain.Platform
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.SyncMetrics
	logger     *log.Entry
}

func newAPIClient(platform domain.Platform, opts HTTPOptions) *apiClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "platform-"+string(platform))
	}
	return &apiClient{
		platform:   platform,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// apiResponse — ответ платформы, прочитанный с ограничением размера.
type apiResponse struct {
	StatusCode int
	Body       []byte
}

func (r apiResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// do выполняет запрос с учётом лимитера. Ошибка означает, что ответа нет.
func (c *apiClient) do(ctx context.Context, operation string, req *http.Request) (apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return apiResponse{}, fmt.Errorf("rate limiter: %w", err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		c.metrics.RecordPlatformCall(string(c.platform), operation, false, time.Since(started))
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.RecordPlatformCall(string(c.platform), operation, err == nil && resp.StatusCode < 300, time.Since(started))
	if err != nil {
		return apiResponse{StatusCode: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}
	return apiResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// putJSON отправляет payload методом PUT.
func (c *apiClient) putJSON(ctx context.Context, operation, endpoint string, payload []byte, headers map[string]string) (apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(ctx, operation, req)
}

// tokenCache хранит OAuth-токен адаптера до истечения срока.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

func (t *tokenCache) get(ctx context.Context, fetch tokenFetcher) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt) {
		return t.token, nil
	}
	token, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl <= tokenExpiryMargin {
		ttl = tokenExpiryMargin * 2
	}
	t.token = token
	t.expiresAt = time.Now().Add(ttl - tokenExpiryMargin)
	return token, nil
}

func (t *tokenCache) invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchClientCredentialsToken выполняет OAuth client-credentials запрос.
func (c *apiClient) fetchClientCredentialsToken(ctx context.Context, endpoint string, form url.Values) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, "auth", req)
	if err != nil {
		return "", 0, &authError{message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, &authError{statusCode: resp.StatusCode, message: fmt.Sprintf("auth failed with status %d", resp.StatusCode)}
	}

	var token tokenResponse
	if err := json.Unmarshal(resp.Body, &token); err != nil || token.AccessToken == "" {
		return "", 0, &authError{statusCode: resp.StatusCode, message: "auth response has no access_token"}
	}
	ttl := time.Duration(token.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return token.AccessToken, ttl, nil
}

type authError struct {
	statusCode int
	message    string
}

func (e *authError) Error() string {
	return e.message
}

// safePublish превращает панику адаптера в неуспешный PublishResult.
func safePublish(logger *log.Entry, publish func() domain.PublishResult) (result domain.PublishResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("publish panicked")
			result = domain.PublishResult{Success: false, Message: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	return publish()
}

// failedResult строит неуспешный результат из ответа платформы.
func failedResult(resp apiResponse, prefix string) domain.PublishResult {
	msg := prefix
	if body := strings.TrimSpace(string(resp.Body)); body != "" {
		msg += ": " + body
	}
	return domain.PublishResult{Success: false, StatusCode: resp.StatusCode, Message: truncateMessage(msg)}
}

// truncateMessage обрезает сообщение до maxMessageLength байт по границе руны.
func truncateMessage(msg string) string {
	if len(msg) <= maxMessageLength {
		return msg
	}
	cut := maxMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func transportFailure(err error) domain.PublishResult {
	var ae *authError
	if errors.As(err, &ae) {
		return domain.PublishResult{Success: false, StatusCode: ae.statusCode, Message: ae.message}
	}
	return domain.PublishResult{Success: false, Message: err.Error()}
}

// externalMenuID достаёт идентификатор меню из ответа, если платформа его вернула.
func externalMenuID(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		MenuID string `json:"menu_id"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.MenuID != "" {
		return payload.MenuID
	}
	return payload.ID
}
