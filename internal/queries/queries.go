package queries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/api"
	"github.com/rajivgeraev/worklio-client/internal/config"
	"github.com/rajivgeraev/worklio-client/internal/models"
)

// ErrUserNotFound возвращается, когда поиск по email не дал результатов
var ErrUserNotFound = errors.New("пользователь не найден")

// Service представляет слой запросов бесед: кэширование,
// инвалидация и фоновый опрос открытой беседы.
//
// Кэш — единственное разделяемое состояние; все записи идут через
// мутации и инвалидацию, закэшированные значения не меняются на месте.
type Service struct {
	api   *api.Client
	cache *gocache.Cache
	cfg   config.ChatConfig
	log   *zap.SugaredLogger

	watchersMu sync.Mutex
	watchers   map[uuid.UUID]chan struct{}
}

// NewService создает новый экземпляр Service
func NewService(apiClient *api.Client, cfg config.ChatConfig, log *zap.SugaredLogger) *Service {
	return &Service{
		api:      apiClient,
		cache:    gocache.New(gocache.NoExpiration, 5*time.Minute),
		cfg:      cfg,
		log:      log,
		watchers: make(map[uuid.UUID]chan struct{}),
	}
}

// UserID возвращает ID текущего пользователя
func (s *Service) UserID() uuid.UUID {
	return s.api.UserID()
}

func (s *Service) conversationsKey() string {
	return fmt.Sprintf("conversations:%s", s.api.UserID())
}

func (s *Service) unreadKey() string {
	return fmt.Sprintf("unread:%s", s.api.UserID())
}

func messagesKeyPrefix(conversationID uuid.UUID) string {
	return fmt.Sprintf("messages:%s:", conversationID)
}

func messagesKey(conversationID uuid.UUID, page int) string {
	return fmt.Sprintf("messages:%s:%d", conversationID, page)
}

// ListConversations возвращает беседы пользователя из кэша
// или загружает их с бэкенда
func (s *Service) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	if cached, ok := s.cache.Get(s.conversationsKey()); ok {
		return cached.([]models.Conversation), nil
	}

	conversations, err := s.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.Set(s.conversationsKey(), conversations, s.cfg.ListTTL)
	return conversations, nil
}

// CachedConversations возвращает список бесед только из кэша,
// без обращения к сети
func (s *Service) CachedConversations() ([]models.Conversation, bool) {
	cached, ok := s.cache.Get(s.conversationsKey())
	if !ok {
		return nil, false
	}
	return cached.([]models.Conversation), true
}

// RefreshConversations инвалидирует и загружает список бесед заново
func (s *Service) RefreshConversations(ctx context.Context) ([]models.Conversation, error) {
	s.InvalidateConversations()
	return s.ListConversations(ctx)
}

// InvalidateConversations сбрасывает кэш списка бесед
func (s *Service) InvalidateConversations() {
	s.cache.Delete(s.conversationsKey())
}

// UnreadCount возвращает агрегат непрочитанных из кэша
// или загружает его с бэкенда
func (s *Service) UnreadCount(ctx context.Context) (*models.UnreadSummary, error) {
	if cached, ok := s.cache.Get(s.unreadKey()); ok {
		return cached.(*models.UnreadSummary), nil
	}

	summary, err := s.api.GetUnreadCount(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.Set(s.unreadKey(), summary, s.cfg.UnreadTTL)
	return summary, nil
}

// InvalidateUnread сбрасывает кэш счетчика непрочитанных
func (s *Service) InvalidateUnread() {
	s.cache.Delete(s.unreadKey())
}

// Messages возвращает страницу сообщений беседы из кэша
// или загружает её с бэкенда
func (s *Service) Messages(ctx context.Context, conversationID uuid.UUID, page int) (*models.MessagePage, error) {
	if cached, ok := s.cache.Get(messagesKey(conversationID, page)); ok {
		return cached.(*models.MessagePage), nil
	}

	msgPage, err := s.api.GetMessages(ctx, conversationID, page, s.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	s.cache.Set(messagesKey(conversationID, page), msgPage, gocache.NoExpiration)
	return msgPage, nil
}

// CachedMessages возвращает страницу сообщений только из кэша
func (s *Service) CachedMessages(conversationID uuid.UUID, page int) (*models.MessagePage, bool) {
	cached, ok := s.cache.Get(messagesKey(conversationID, page))
	if !ok {
		return nil, false
	}
	return cached.(*models.MessagePage), true
}

// RefreshMessages — единый примитив обновления сообщений беседы,
// вызываемый и тиком опроса, и событиями push-канала. Всегда полная
// замена снимком с сервера, поэтому вызовы идемпотентны и их порядок
// не важен (last-write-wins).
func (s *Service) RefreshMessages(ctx context.Context, conversationID uuid.UUID) (*models.MessagePage, error) {
	msgPage, err := s.api.GetMessages(ctx, conversationID, 0, s.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	s.InvalidateMessages(conversationID)
	s.cache.Set(messagesKey(conversationID, 0), msgPage, gocache.NoExpiration)
	return msgPage, nil
}

// InvalidateMessages сбрасывает все закэшированные страницы беседы
func (s *Service) InvalidateMessages(conversationID uuid.UUID) {
	prefix := messagesKeyPrefix(conversationID)
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}

// WatchMessages запускает фоновый опрос беседы с фиксированным
// интервалом. Опрос работает безусловно, пока не остановлен:
// это намеренная избыточность на случай потерянных событий
// push-канала. onUpdate вызывается после каждого успешного
// обновления; ошибки опроса не фатальны и исправляются
// следующим тиком.
func (s *Service) WatchMessages(conversationID uuid.UUID, onUpdate func(*models.MessagePage)) {
	s.watchersMu.Lock()
	if stop, exists := s.watchers[conversationID]; exists {
		close(stop)
	}
	stop := make(chan struct{})
	s.watchers[conversationID] = stop
	s.watchersMu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				msgPage, err := s.RefreshMessages(context.Background(), conversationID)
				if err != nil {
					s.log.Debugw("тик опроса беседы не удался", "conversation_id", conversationID, "err", err)
					continue
				}
				if onUpdate != nil {
					onUpdate(msgPage)
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopWatch останавливает фоновый опрос беседы
func (s *Service) StopWatch(conversationID uuid.UUID) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()

	if stop, exists := s.watchers[conversationID]; exists {
		close(stop)
		delete(s.watchers, conversationID)
	}
}

// StopAllWatches останавливает все фоновые опросы
func (s *Service) StopAllWatches() {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()

	for id, stop := range s.watchers {
		close(stop)
		delete(s.watchers, id)
	}
}

// Send отправляет сообщение и инвалидирует затронутые кэши.
// Оптимистичной записи в кэш нет: корректность достигается
// перечитыванием ценой короткого окна устаревания.
func (s *Service) Send(ctx context.Context, conversationID uuid.UUID, content string, attachmentURLs []string) (*models.Message, error) {
	message, err := s.api.SendMessage(ctx, conversationID, content, attachmentURLs)
	if err != nil {
		return nil, err
	}

	s.InvalidateConversations()
	s.InvalidateUnread()
	if _, err := s.RefreshMessages(ctx, conversationID); err != nil {
		// Сообщение уже отправлено, устаревшую страницу догонит опрос
		s.log.Debugw("не удалось перечитать сообщения после отправки", "err", err)
	}

	return message, nil
}

// MarkRead отмечает беседу прочитанной и инвалидирует счетчики
func (s *Service) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	if err := s.api.MarkConversationRead(ctx, conversationID); err != nil {
		return err
	}

	s.InvalidateUnread()
	s.InvalidateConversations()
	return nil
}

// StartConversationByID создает беседу с пользователем по его ID
func (s *Service) StartConversationByID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	conversationID, err := s.api.StartConversation(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}

	s.InvalidateConversations()
	return conversationID, nil
}

// StartConversationByEmail находит пользователя по email и создает
// с ним беседу. Берется первый результат поиска.
func (s *Service) StartConversationByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	users, err := s.api.SearchUsers(ctx, email)
	if err != nil {
		return uuid.Nil, err
	}

	if len(users) == 0 {
		return uuid.Nil, ErrUserNotFound
	}

	return s.StartConversationByID(ctx, users[0].ID)
}

// BlockUser блокирует пользователя и инвалидирует список бесед
func (s *Service) BlockUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.api.BlockUser(ctx, userID); err != nil {
		return err
	}

	s.InvalidateConversations()
	return nil
}

// UnblockUser снимает блокировку и инвалидирует список бесед
func (s *Service) UnblockUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.api.UnblockUser(ctx, userID); err != nil {
		return err
	}

	s.InvalidateConversations()
	return nil
}
