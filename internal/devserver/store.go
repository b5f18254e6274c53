package devserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/worklio-client/internal/models"
)

// Store представляет хранилище dev-бэкенда в памяти.
// Никакой внешней базы: сервер поднимается где угодно
// и живет ровно столько, сколько нужен.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]models.User
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID][]models.Message
	blocks        map[uuid.UUID]map[uuid.UUID]bool // кто -> кого
}

// NewStore создает новый экземпляр Store
func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]models.User),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[uuid.UUID][]models.Message),
		blocks:        make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// AddUser регистрирует пользователя
func (s *Store) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// UserByID возвращает пользователя по ID
func (s *Store) UserByID(userID uuid.UUID) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	return user, ok
}

// UserByEmail возвращает пользователя по точному email
func (s *Store) UserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, true
		}
	}
	return models.User{}, false
}

// SearchUsersByEmail ищет пользователей по точному или близкому
// совпадению email
func (s *Store) SearchUsersByEmail(email string) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(email))
	if query == "" {
		return nil
	}

	var result []models.User
	for _, user := range s.users {
		candidate := strings.ToLower(user.Email)
		if candidate == query || strings.HasPrefix(candidate, query) {
			result = append(result, user)
		}
	}

	// Точное совпадение всегда первое
	sort.Slice(result, func(i, j int) bool {
		if strings.EqualFold(result[i].Email, email) {
			return true
		}
		if strings.EqualFold(result[j].Email, email) {
			return false
		}
		return result[i].Email < result[j].Email
	})

	return result
}

// IsParticipant проверяет, участвует ли пользователь в беседе
func (s *Store) IsParticipant(conversationID, userID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	return conversation.SenderID == userID || conversation.ReceiverID == userID
}

// OtherParticipant возвращает второго участника беседы
func (s *Store) OtherParticipant(conversationID, userID uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return uuid.Nil, false
	}
	if conversation.SenderID == userID {
		return conversation.ReceiverID, true
	}
	if conversation.ReceiverID == userID {
		return conversation.SenderID, true
	}
	return uuid.Nil, false
}

// StartConversation создает беседу между пользователями или
// возвращает уже существующую
func (s *Store) StartConversation(senderID, receiverID uuid.UUID) (uuid.UUID, bool, error) {
	if senderID == receiverID {
		return uuid.Nil, false, fmt.Errorf("нельзя создать беседу с самим собой")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[receiverID]; !ok {
		return uuid.Nil, false, fmt.Errorf("получатель не найден")
	}

	for _, conversation := range s.conversations {
		if (conversation.SenderID == senderID && conversation.ReceiverID == receiverID) ||
			(conversation.SenderID == receiverID && conversation.ReceiverID == senderID) {
			return conversation.ID, false, nil
		}
	}

	now := time.Now()
	conversation := &models.Conversation{
		ID:         uuid.New(),
		Type:       models.ConversationDirect,
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.conversations[conversation.ID] = conversation

	return conversation.ID, true, nil
}

// isBlockedLocked проверяет блокировку в любую сторону (под мьютексом)
func (s *Store) isBlockedLocked(a, b uuid.UUID) bool {
	if blocked, ok := s.blocks[a]; ok && blocked[b] {
		return true
	}
	if blocked, ok := s.blocks[b]; ok && blocked[a] {
		return true
	}
	return false
}

// AddMessage добавляет сообщение в беседу и обновляет её превью
func (s *Store) AddMessage(conversationID, senderID uuid.UUID, content string, attachmentURLs []string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, fmt.Errorf("беседа не найдена")
	}
	if conversation.SenderID != senderID && conversation.ReceiverID != senderID {
		return models.Message{}, fmt.Errorf("нет доступа к этой беседе")
	}

	other := conversation.SenderID
	if other == senderID {
		other = conversation.ReceiverID
	}
	if s.isBlockedLocked(senderID, other) {
		return models.Message{}, fmt.Errorf("беседа заблокирована")
	}

	now := time.Now()
	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}

	message := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        contentPtr,
		AttachmentURLs: attachmentURLs,
		SentAt:         now,
		IsRead:         false,
	}
	s.messages[conversationID] = append(s.messages[conversationID], message)

	conversation.LastMessageText = previewText(message)
	conversation.LastMessageTime = &now
	conversation.UpdatedAt = now

	return message, nil
}

// Messages возвращает страницу сообщений беседы. Страница 0 —
// самые свежие; внутри страницы порядок по возрастанию времени.
func (s *Store) Messages(conversationID uuid.UUID, page, size int) *models.MessagePage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	total := len(all)

	end := total - page*size
	start := end - size
	if end < 0 {
		end = 0
	}
	if start < 0 {
		start = 0
	}

	messages := make([]models.Message, end-start)
	copy(messages, all[start:end])

	return &models.MessagePage{
		Messages: messages,
		Page:     page,
		HasMore:  start > 0,
	}
}

// MarkRead отмечает прочитанными все чужие сообщения беседы.
// Возвращает true, если хотя бы одно сообщение поменяло статус.
func (s *Store) MarkRead(conversationID, readerID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := false
	messages := s.messages[conversationID]
	for i := range messages {
		if messages[i].SenderID != readerID && !messages[i].IsRead {
			messages[i].IsRead = true
			messages[i].ReadAt = &now
			changed = true
		}
	}
	return changed
}

// ConversationsFor возвращает беседы пользователя с денормализованными
// полями, упорядоченные по времени последнего сообщения по убыванию
func (s *Store) ConversationsFor(userID uuid.UUID) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Conversation
	for _, conversation := range s.conversations {
		if conversation.SenderID != userID && conversation.ReceiverID != userID {
			continue
		}

		view := *conversation

		otherID := conversation.SenderID
		if otherID == userID {
			otherID = conversation.ReceiverID
		}
		if other, ok := s.users[otherID]; ok {
			view.OtherUserName = displayName(other)
			view.OtherUserEmail = other.Email
			view.OtherUserAvatar = other.AvatarURL
		}

		for _, message := range s.messages[conversation.ID] {
			if message.SenderID != userID && !message.IsRead {
				view.UnreadCount++
			}
		}

		result = append(result, view)
	}

	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].CreatedAt, result[j].CreatedAt
		if result[i].LastMessageTime != nil {
			ti = *result[i].LastMessageTime
		}
		if result[j].LastMessageTime != nil {
			tj = *result[j].LastMessageTime
		}
		return ti.After(tj)
	})

	return result
}

// UnreadFor возвращает агрегат непрочитанных сообщений пользователя
func (s *Store) UnreadFor(userID uuid.UUID) *models.UnreadSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &models.UnreadSummary{}
	for _, conversation := range s.conversations {
		if conversation.SenderID != userID && conversation.ReceiverID != userID {
			continue
		}

		count := 0
		for _, message := range s.messages[conversation.ID] {
			if message.SenderID != userID && !message.IsRead {
				count++
			}
		}
		if count > 0 {
			summary.Conversations = append(summary.Conversations, models.UnreadInfo{
				ConversationID: conversation.ID,
				UnreadCount:    count,
			})
			summary.Total += count
		}
	}

	return summary
}

// Block блокирует пользователя
func (s *Store) Block(blockerID, blockedID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.blocks[blockerID] == nil {
		s.blocks[blockerID] = make(map[uuid.UUID]bool)
	}
	s.blocks[blockerID][blockedID] = true
}

// Unblock снимает блокировку пользователя
func (s *Store) Unblock(blockerID, blockedID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blocked, ok := s.blocks[blockerID]; ok {
		delete(blocked, blockedID)
	}
}

// previewText формирует текст превью для списка бесед
func previewText(message models.Message) string {
	if message.Content != nil && *message.Content != "" {
		return *message.Content
	}
	if len(message.AttachmentURLs) > 0 {
		return "📎 Вложение"
	}
	return ""
}

// displayName формирует отображаемое имя пользователя
func displayName(user models.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	return user.Username
}
