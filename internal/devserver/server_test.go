package devserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/worklio-client/internal/logger"
	"github.com/rajivgeraev/worklio-client/internal/models"
)

const testSecret = "dev-secret"

// doRequest выполняет запрос к приложению и декодирует JSON-ответ
func doRequest(t *testing.T, server *Server, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := server.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out), "тело ответа: %s", data)
	}

	return resp.StatusCode
}

// login получает токен демо-пользователя
func login(t *testing.T, server *Server, email string) (string, uuid.UUID) {
	t.Helper()

	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	status := doRequest(t, server, http.MethodGet, "/api/dev/login?email="+email, "", nil, &out)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, out.Token)

	return out.Token, out.User.ID
}

// startConversation создает беседу между двумя пользователями
func startConversation(t *testing.T, server *Server, token string, receiverID uuid.UUID) uuid.UUID {
	t.Helper()

	var out struct {
		ConversationID uuid.UUID `json:"conversation_id"`
		IsNew          bool      `json:"is_new"`
	}
	status := doRequest(t, server, http.MethodPost, "/api/conversations", token,
		map[string]string{"receiver_id": receiverID.String()}, &out)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, status)

	return out.ConversationID
}

func TestAuthRequired(t *testing.T) {
	server := New(testSecret, logger.Nop())

	status := doRequest(t, server, http.MethodGet, "/api/conversations", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMessageFlow(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, _ := login(t, server, "alice@worklio.dev")
	bobToken, bobID := login(t, server, "bob@worklio.dev")

	conversationID := startConversation(t, server, aliceToken, bobID)

	// Алиса пишет Бобу
	var sendOut struct {
		Message models.Message `json:"message"`
	}
	status := doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID), aliceToken,
		map[string]interface{}{"content": "Здравствуйте, возьметесь за проект?"}, &sendOut)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, sendOut.Message.Content)

	// У Боба беседа видна с непрочитанным и превью
	var listOut struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	status = doRequest(t, server, http.MethodGet, "/api/conversations", bobToken, nil, &listOut)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, listOut.Conversations, 1)
	assert.Equal(t, 1, listOut.Conversations[0].UnreadCount)
	assert.Equal(t, "Здравствуйте, возьметесь за проект?", listOut.Conversations[0].LastMessageText)
	assert.NotEmpty(t, listOut.Conversations[0].OtherUserName)

	// Агрегат непрочитанных
	var unreadOut models.UnreadSummary
	status = doRequest(t, server, http.MethodGet, "/api/messages/unread", bobToken, nil, &unreadOut)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, unreadOut.Total)

	// Боб отмечает беседу прочитанной
	status = doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/read", conversationID), bobToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = doRequest(t, server, http.MethodGet, "/api/messages/unread", bobToken, nil, &unreadOut)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, unreadOut.Total)
}

func TestStartConversationIdempotent(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, aliceID := login(t, server, "alice@worklio.dev")
	bobToken, bobID := login(t, server, "bob@worklio.dev")

	first := startConversation(t, server, aliceToken, bobID)
	// Повторное создание с любой стороны возвращает ту же беседу
	second := startConversation(t, server, bobToken, aliceID)
	assert.Equal(t, first, second)
}

func TestMessagePaging(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, _ := login(t, server, "alice@worklio.dev")
	_, bobID := login(t, server, "bob@worklio.dev")
	conversationID := startConversation(t, server, aliceToken, bobID)

	for i := 1; i <= 3; i++ {
		status := doRequest(t, server, http.MethodPost,
			fmt.Sprintf("/api/conversations/%s/messages", conversationID), aliceToken,
			map[string]interface{}{"content": fmt.Sprintf("сообщение %d", i)}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	// Страница 0 — две самые свежие
	var page0 models.MessagePage
	status := doRequest(t, server, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?page=0&size=2", conversationID), aliceToken, nil, &page0)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page0.Messages, 2)
	assert.True(t, page0.HasMore)
	assert.Equal(t, "сообщение 2", *page0.Messages[0].Content)
	assert.Equal(t, "сообщение 3", *page0.Messages[1].Content)

	// Страница 1 — более старое
	var page1 models.MessagePage
	status = doRequest(t, server, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages?page=1&size=2", conversationID), aliceToken, nil, &page1)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page1.Messages, 1)
	assert.False(t, page1.HasMore)
	assert.Equal(t, "сообщение 1", *page1.Messages[0].Content)
}

func TestMessagesForbiddenForOutsider(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, _ := login(t, server, "alice@worklio.dev")
	_, bobID := login(t, server, "bob@worklio.dev")
	carolToken, _ := login(t, server, "carol@worklio.dev")

	conversationID := startConversation(t, server, aliceToken, bobID)

	status := doRequest(t, server, http.MethodGet,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID), carolToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, aliceID := login(t, server, "alice@worklio.dev")

	var out struct {
		Users []models.User `json:"users"`
	}
	status := doRequest(t, server, http.MethodGet, "/api/users/search?email=alice@worklio.dev", aliceToken, nil, &out)
	require.Equal(t, http.StatusOK, status)

	for _, user := range out.Users {
		assert.NotEqual(t, aliceID, user.ID)
	}
}

func TestBlockedUserCannotSend(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, aliceID := login(t, server, "alice@worklio.dev")
	bobToken, bobID := login(t, server, "bob@worklio.dev")
	conversationID := startConversation(t, server, aliceToken, bobID)

	// Боб блокирует Алису
	status := doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/users/%s/block", aliceID), bobToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID), aliceToken,
		map[string]interface{}{"content": "ау"}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// Разблокировка возвращает возможность писать
	status = doRequest(t, server, http.MethodDelete,
		fmt.Sprintf("/api/users/%s/block", aliceID), bobToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID), aliceToken,
		map[string]interface{}{"content": "снова на связи"}, nil)
	assert.Equal(t, http.StatusCreated, status)
}

func TestEmptyMessageRejected(t *testing.T) {
	server := New(testSecret, logger.Nop())

	aliceToken, _ := login(t, server, "alice@worklio.dev")
	_, bobID := login(t, server, "bob@worklio.dev")
	conversationID := startConversation(t, server, aliceToken, bobID)

	status := doRequest(t, server, http.MethodPost,
		fmt.Sprintf("/api/conversations/%s/messages", conversationID), aliceToken,
		map[string]interface{}{"content": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
