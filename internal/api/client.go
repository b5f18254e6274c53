package api

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/config"
	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/utils"
)

// Client представляет типизированный REST-клиент бэкенда Worklio
type Client struct {
	rest   *resty.Client
	userID uuid.UUID
	log    *zap.SugaredLogger
}

// NewClient создает новый экземпляр Client.
// ID текущего пользователя извлекается из bearer-токена.
func NewClient(cfg *config.Config, log *zap.SugaredLogger) (*Client, error) {
	userIDStr, err := utils.ExtractUserIDUnverified(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("ошибка при извлечении user_id из токена: %w", err)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("неверный формат ID пользователя в токене: %w", err)
	}

	rest := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json")

	return &Client{
		rest:   rest,
		userID: userID,
		log:    log,
	}, nil
}

// UserID возвращает ID текущего пользователя
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// errorResponse структура ошибки бэкенда
type errorResponse struct {
	Error string `json:"error"`
}

// checkResponse превращает HTTP-ошибку в error
func checkResponse(resp *resty.Response, op string) error {
	if !resp.IsError() {
		return nil
	}

	if apiErr, ok := resp.Error().(*errorResponse); ok && apiErr.Error != "" {
		return fmt.Errorf("ошибка при %s: %s (код %d)", op, apiErr.Error, resp.StatusCode())
	}
	return fmt.Errorf("ошибка при %s: код %d", op, resp.StatusCode())
}

// conversationsResponse ответ со списком бесед
type conversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
	Count         int                   `json:"count"`
}

// ListConversations возвращает беседы пользователя,
// упорядоченные по времени последнего сообщения по убыванию
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out conversationsResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorResponse{}).
		Get("/api/conversations")
	if err != nil {
		return nil, fmt.Errorf("ошибка при запросе списка бесед: %w", err)
	}
	if err := checkResponse(resp, "запросе списка бесед"); err != nil {
		return nil, err
	}

	return out.Conversations, nil
}

// GetMessages возвращает страницу сообщений беседы.
// Страница 0 — самые свежие сообщения; внутри страницы
// сообщения упорядочены по времени отправки по возрастанию.
func (c *Client) GetMessages(ctx context.Context, conversationID uuid.UUID, page, size int) (*models.MessagePage, error) {
	var out models.MessagePage

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("size", fmt.Sprintf("%d", size)).
		SetResult(&out).
		SetError(&errorResponse{}).
		Get(fmt.Sprintf("/api/conversations/%s/messages", conversationID))
	if err != nil {
		return nil, fmt.Errorf("ошибка при запросе сообщений: %w", err)
	}
	if err := checkResponse(resp, "запросе сообщений"); err != nil {
		return nil, err
	}

	out.Page = page
	return &out, nil
}

// GetUnreadCount возвращает агрегат непрочитанных сообщений
func (c *Client) GetUnreadCount(ctx context.Context) (*models.UnreadSummary, error) {
	var out models.UnreadSummary

	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorResponse{}).
		Get("/api/messages/unread")
	if err != nil {
		return nil, fmt.Errorf("ошибка при запросе счетчика непрочитанных: %w", err)
	}
	if err := checkResponse(resp, "запросе счетчика непрочитанных"); err != nil {
		return nil, err
	}

	return &out, nil
}

// sendMessageRequest тело запроса отправки сообщения
type sendMessageRequest struct {
	Content        string   `json:"content"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
}

// sendMessageResponse ответ отправки сообщения
type sendMessageResponse struct {
	Message models.Message `json:"message"`
	Success bool           `json:"success"`
}

// SendMessage отправляет сообщение в беседу
func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, content string, attachmentURLs []string) (*models.Message, error) {
	var out sendMessageResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{Content: content, AttachmentURLs: attachmentURLs}).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post(fmt.Sprintf("/api/conversations/%s/messages", conversationID))
	if err != nil {
		return nil, fmt.Errorf("ошибка при отправке сообщения: %w", err)
	}
	if err := checkResponse(resp, "отправке сообщения"); err != nil {
		return nil, err
	}

	return &out.Message, nil
}

// MarkConversationRead отмечает все сообщения беседы прочитанными
func (c *Client) MarkConversationRead(ctx context.Context, conversationID uuid.UUID) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetError(&errorResponse{}).
		Post(fmt.Sprintf("/api/conversations/%s/read", conversationID))
	if err != nil {
		return fmt.Errorf("ошибка при отметке беседы прочитанной: %w", err)
	}
	return checkResponse(resp, "отметке беседы прочитанной")
}

// startConversationRequest тело запроса создания беседы
type startConversationRequest struct {
	ReceiverID string `json:"receiver_id"`
}

// startConversationResponse ответ создания беседы
type startConversationResponse struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	IsNew          bool      `json:"is_new"`
	Success        bool      `json:"success"`
}

// StartConversation создает беседу с пользователем
// или возвращает уже существующую
func (c *Client) StartConversation(ctx context.Context, receiverID uuid.UUID) (uuid.UUID, error) {
	var out startConversationResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(startConversationRequest{ReceiverID: receiverID.String()}).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post("/api/conversations")
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка при создании беседы: %w", err)
	}
	if err := checkResponse(resp, "создании беседы"); err != nil {
		return uuid.Nil, err
	}

	return out.ConversationID, nil
}

// usersResponse ответ поиска пользователей
type usersResponse struct {
	Users []models.User `json:"users"`
	Count int           `json:"count"`
}

// SearchUsers ищет пользователей по email (точное или близкое совпадение)
func (c *Client) SearchUsers(ctx context.Context, email string) ([]models.User, error) {
	var out usersResponse

	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("email", email).
		SetResult(&out).
		SetError(&errorResponse{}).
		Get("/api/users/search")
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске пользователей: %w", err)
	}
	if err := checkResponse(resp, "поиске пользователей"); err != nil {
		return nil, err
	}

	return out.Users, nil
}

// BlockUser блокирует пользователя
func (c *Client) BlockUser(ctx context.Context, userID uuid.UUID) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetError(&errorResponse{}).
		Post(fmt.Sprintf("/api/users/%s/block", userID))
	if err != nil {
		return fmt.Errorf("ошибка при блокировке пользователя: %w", err)
	}
	return checkResponse(resp, "блокировке пользователя")
}

// UnblockUser снимает блокировку пользователя
func (c *Client) UnblockUser(ctx context.Context, userID uuid.UUID) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetError(&errorResponse{}).
		Delete(fmt.Sprintf("/api/users/%s/block", userID))
	if err != nil {
		return fmt.Errorf("ошибка при разблокировке пользователя: %w", err)
	}
	return checkResponse(resp, "разблокировке пользователя")
}
