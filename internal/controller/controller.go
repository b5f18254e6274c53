package controller

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/queries"
	"github.com/rajivgeraev/worklio-client/internal/toast"
)

// Порог в пикселях, в пределах которого пользователь
// считается находящимся внизу списка сообщений
const atBottomThreshold = 50.0

// queryStateKey — параметр строки запроса с ID открытой беседы
const queryStateKey = "conversationId"

// Phase определяет состояние экрана сообщений
type Phase int

const (
	PhaseNoSelection Phase = iota
	PhaseLoading
	PhaseReady
)

// Queries описывает слой запросов, нужный контроллеру
type Queries interface {
	CachedConversations() ([]models.Conversation, bool)
	RefreshConversations(ctx context.Context) ([]models.Conversation, error)
	RefreshMessages(ctx context.Context, conversationID uuid.UUID) (*models.MessagePage, error)
	CachedMessages(conversationID uuid.UUID, page int) (*models.MessagePage, bool)
	InvalidateUnread()
	WatchMessages(conversationID uuid.UUID, onUpdate func(*models.MessagePage))
	StopWatch(conversationID uuid.UUID)
	Send(ctx context.Context, conversationID uuid.UUID, content string, attachmentURLs []string) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID) error
	StartConversationByEmail(ctx context.Context, email string) (uuid.UUID, error)
}

// Transport описывает push-канал, нужный контроллеру
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsWebSocketConnected() bool
	SendMessage(destination string, payload interface{}) error
	Subscribe(eventType models.EventType, handler func(event models.Event)) func()
}

// Uploader загружает файл вложения и возвращает его URL
type Uploader interface {
	Upload(ctx context.Context, filePath string) (string, error)
}

// Viewport описывает область отображения списка сообщений
type Viewport interface {
	ScrollToBottom()
}

// QueryState хранит состояние строки запроса экрана,
// чтобы перезагрузка восстанавливала открытую беседу
type QueryState interface {
	Get(key string) string
	Set(key, value string)
}

// Controller представляет контроллер экрана сообщений.
// Все изменяемые флаги (набор показанных уведомлений, признак
// «внизу списка», состояние композера) живут на экземпляре,
// а не в глобальных переменных: несколько экранов не мешают
// друг другу.
type Controller struct {
	queries   Queries
	transport Transport
	uploader  Uploader
	viewport  Viewport
	toaster   toast.Toaster
	state     QueryState
	log       *zap.SugaredLogger

	mu          sync.Mutex
	phase       Phase
	selected    uuid.UUID
	hasSelected bool
	notified    map[uuid.UUID]struct{}
	atBottom    bool
	lastPage    *models.MessagePage

	composerText string
	attachments  []string

	unsubscribes []func()
}

// Deps зависимости контроллера
type Deps struct {
	Queries   Queries
	Transport Transport
	Uploader  Uploader
	Viewport  Viewport
	Toaster   toast.Toaster
	State     QueryState
	Log       *zap.SugaredLogger
}

// NewController создает новый экземпляр Controller
func NewController(deps Deps) *Controller {
	return &Controller{
		queries:   deps.Queries,
		transport: deps.Transport,
		uploader:  deps.Uploader,
		viewport:  deps.Viewport,
		toaster:   deps.Toaster,
		state:     deps.State,
		log:       deps.Log,
		phase:     PhaseNoSelection,
		notified:  make(map[uuid.UUID]struct{}),
		atBottom:  true,
	}
}

// Start подписывается на push-канал и восстанавливает открытую
// беседу из строки запроса. Ошибка подключения не фатальна:
// экран продолжает работать только на опросе.
func (c *Controller) Start(ctx context.Context) {
	unsubMsg := c.transport.Subscribe(models.EventNewMessage, c.handleNewMessage)
	unsubRead := c.transport.Subscribe(models.EventMessageRead, c.handleMessageRead)

	c.mu.Lock()
	c.unsubscribes = append(c.unsubscribes, unsubMsg, unsubRead)
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.log.Warnw("push-канал недоступен", "err", err)
		c.toaster.Error("Нет соединения", "Мгновенные обновления недоступны, сообщения будут приходить с задержкой")
	}

	if raw := c.state.Get(queryStateKey); raw != "" {
		conversationID, err := uuid.Parse(raw)
		if err != nil {
			c.log.Warnw("неверный conversationId в строке запроса", "value", raw)
			return
		}
		if err := c.Select(ctx, conversationID); err != nil {
			c.log.Warnw("не удалось восстановить беседу", "conversation_id", conversationID, "err", err)
		}
	}
}

// Select делает беседу активной: отражает её ID в строку запроса,
// сбрасывает показанные для неё уведомления, отмечает её
// прочитанной (не дожидаясь результата), запускает фоновый опрос
// и загружает свежую страницу сообщений.
func (c *Controller) Select(ctx context.Context, conversationID uuid.UUID) error {
	c.mu.Lock()
	previous := c.selected
	hadPrevious := c.hasSelected
	c.selected = conversationID
	c.hasSelected = true
	c.phase = PhaseLoading
	delete(c.notified, conversationID)
	c.mu.Unlock()

	c.state.Set(queryStateKey, conversationID.String())

	// Отметка о прочтении не блокирует выбор беседы
	go func() {
		if err := c.queries.MarkRead(context.Background(), conversationID); err != nil {
			c.log.Warnw("не удалось отметить беседу прочитанной", "conversation_id", conversationID, "err", err)
		}
	}()

	if hadPrevious && previous != conversationID {
		c.queries.StopWatch(previous)
	}
	c.queries.WatchMessages(conversationID, c.onPollUpdate(conversationID))

	msgPage, err := c.queries.RefreshMessages(ctx, conversationID)
	if err != nil {
		c.toaster.Error("Не удалось загрузить сообщения", err.Error())
		return err
	}

	c.mu.Lock()
	c.lastPage = msgPage
	c.phase = PhaseReady
	c.atBottom = true
	c.mu.Unlock()

	c.viewport.ScrollToBottom()
	return nil
}

// onPollUpdate возвращает обработчик тика опроса для беседы
func (c *Controller) onPollUpdate(conversationID uuid.UUID) func(*models.MessagePage) {
	return func(msgPage *models.MessagePage) {
		c.mu.Lock()
		if !c.hasSelected || c.selected != conversationID {
			c.mu.Unlock()
			return
		}
		c.lastPage = msgPage
		wasAtBottom := c.atBottom
		c.mu.Unlock()

		if wasAtBottom {
			c.viewport.ScrollToBottom()
		}
	}
}

// handleNewMessage обрабатывает событие нового сообщения push-канала
func (c *Controller) handleNewMessage(event models.Event) {
	conversationID, err := uuid.Parse(event.ConversationID)
	if err != nil {
		c.log.Warnw("событие с неверным conversation_id", "value", event.ConversationID)
		return
	}

	// Счетчик непрочитанных в любом случае устарел
	c.queries.InvalidateUnread()

	// Первое сообщение новой беседы: её еще нет в списке
	if conversations, ok := c.queries.CachedConversations(); ok && !containsConversation(conversations, conversationID) {
		go func() {
			if _, err := c.queries.RefreshConversations(context.Background()); err != nil {
				c.log.Warnw("не удалось обновить список бесед", "err", err)
			}
		}()
	}

	c.mu.Lock()
	isActive := c.hasSelected && c.selected == conversationID
	var alreadyNotified bool
	if !isActive {
		_, alreadyNotified = c.notified[conversationID]
		if !alreadyNotified {
			c.notified[conversationID] = struct{}{}
		}
	}
	wasAtBottom := c.atBottom
	c.mu.Unlock()

	if !isActive {
		if !alreadyNotified {
			c.toaster.Info("Новое сообщение", notificationBody(event))
		}
		return
	}

	// Активная беседа: перечитываем страницу вместо вставки
	// полезной нагрузки события, чтобы гонка опроса и push-канала
	// не давала дубликатов и нарушений порядка
	msgPage, err := c.queries.RefreshMessages(context.Background(), conversationID)
	if err != nil {
		c.log.Warnw("не удалось перечитать активную беседу", "err", err)
		return
	}

	c.mu.Lock()
	if c.hasSelected && c.selected == conversationID {
		c.lastPage = msgPage
	}
	c.mu.Unlock()

	if wasAtBottom {
		c.viewport.ScrollToBottom()
	}
}

// handleMessageRead обрабатывает событие отметки о прочтении:
// перечитывает активную беседу, чтобы статусы доставки
// обновились не дожидаясь тика опроса
func (c *Controller) handleMessageRead(event models.Event) {
	conversationID, err := uuid.Parse(event.ConversationID)
	if err != nil {
		return
	}

	c.mu.Lock()
	isActive := c.hasSelected && c.selected == conversationID
	c.mu.Unlock()

	if !isActive {
		return
	}

	msgPage, err := c.queries.RefreshMessages(context.Background(), conversationID)
	if err != nil {
		c.log.Warnw("не удалось перечитать беседу после отметки о прочтении", "err", err)
		return
	}

	c.mu.Lock()
	if c.hasSelected && c.selected == conversationID {
		c.lastPage = msgPage
	}
	c.mu.Unlock()
}

// OnScroll обновляет признак «внизу списка» по текущему
// расстоянию до нижней границы
func (c *Controller) OnScroll(distanceFromBottom float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.atBottom = distanceFromBottom <= atBottomThreshold
}

// SetComposerText устанавливает текст композера
func (c *Controller) SetComposerText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.composerText = text
}

// ComposerText возвращает текст композера
func (c *Controller) ComposerText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composerText
}

// AttachFile добавляет файл к будущему сообщению
func (c *Controller) AttachFile(filePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = append(c.attachments, filePath)
}

// Attachments возвращает выбранные файлы
func (c *Controller) Attachments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attachments...)
}

// ClearAttachments убирает все выбранные файлы
func (c *Controller) ClearAttachments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = nil
}

// Send выполняет конвейер отправки: проверка, последовательная
// загрузка вложений, отправка, очистка композера. Композер
// очищается только при полном успехе, чтобы после ошибки
// пользователь мог повторить отправку без перенабора.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	text := c.composerText
	files := append([]string(nil), c.attachments...)
	conversationID := c.selected
	hasSelected := c.hasSelected
	c.mu.Unlock()

	// Пустая отправка — не операция: ни одного сетевого вызова
	if !hasSelected || (strings.TrimSpace(text) == "" && len(files) == 0) {
		return nil
	}

	var attachmentURLs []string
	for _, filePath := range files {
		url, err := c.uploader.Upload(ctx, filePath)
		if err != nil {
			c.toaster.Error("Не удалось загрузить вложение", err.Error())
			return err
		}
		attachmentURLs = append(attachmentURLs, url)
	}

	message, err := c.queries.Send(ctx, conversationID, text, attachmentURLs)
	if err != nil {
		c.toaster.Error("Не удалось отправить сообщение", err.Error())
		return err
	}

	c.mu.Lock()
	c.composerText = ""
	c.attachments = nil
	if msgPage, ok := c.queries.CachedMessages(conversationID, 0); ok {
		c.lastPage = msgPage
	}
	c.atBottom = true
	c.mu.Unlock()

	// Дублируем отправку в push-канал; REST остается источником истины
	if c.transport.IsWebSocketConnected() {
		if err := c.transport.SendMessage("/app/chat", message); err != nil {
			c.log.Debugw("не удалось продублировать сообщение в push-канал", "err", err)
		}
	}

	// Некоторые бэкенды считают свое же сообщение непрочитанным
	go func() {
		if err := c.queries.MarkRead(context.Background(), conversationID); err != nil {
			c.log.Debugw("не удалось отметить беседу прочитанной после отправки", "err", err)
		}
	}()

	c.viewport.ScrollToBottom()
	return nil
}

// StartChatByEmail находит пользователя по email, создает с ним
// беседу и делает её активной
func (c *Controller) StartChatByEmail(ctx context.Context, email string) error {
	conversationID, err := c.queries.StartConversationByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, queries.ErrUserNotFound) {
			c.toaster.Info("Пользователь не найден", email)
		} else {
			c.toaster.Error("Не удалось создать беседу", err.Error())
		}
		return err
	}

	return c.Select(ctx, conversationID)
}

// Close отписывается от push-канала, останавливает опрос
// и разрывает соединение
func (c *Controller) Close() {
	c.mu.Lock()
	unsubscribes := c.unsubscribes
	c.unsubscribes = nil
	selected := c.selected
	hasSelected := c.hasSelected
	c.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	if hasSelected {
		c.queries.StopWatch(selected)
	}
	c.transport.Disconnect()
}

// Phase возвращает текущее состояние экрана
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Selected возвращает активную беседу
func (c *Controller) Selected() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.hasSelected
}

// Messages возвращает последнюю загруженную страницу сообщений
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastPage == nil {
		return nil
	}
	return append([]models.Message(nil), c.lastPage.Messages...)
}

// IsAtBottom сообщает, находится ли пользователь внизу списка
func (c *Controller) IsAtBottom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atBottom
}

// containsConversation проверяет наличие беседы в списке
func containsConversation(conversations []models.Conversation, conversationID uuid.UUID) bool {
	for _, conversation := range conversations {
		if conversation.ID == conversationID {
			return true
		}
	}
	return false
}

// notificationBody формирует текст уведомления о новом сообщении
func notificationBody(event models.Event) string {
	if event.SenderName != "" {
		return event.SenderName + ": " + event.Preview
	}
	return event.Preview
}
