package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/worklio-client/internal/logger"
	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/queries"
	"github.com/rajivgeraev/worklio-client/internal/urlstate"
)

// fakeQueries реализует Queries для тестов контроллера
type fakeQueries struct {
	mu sync.Mutex

	cached    []models.Conversation
	hasCached bool

	page *models.MessagePage

	refreshConvCalls int
	refreshMsgCalls  int
	sendCalls        int
	markReadCalls    int
	watchedConvs     []uuid.UUID
	stoppedConvs     []uuid.UUID

	sendErr      error
	startByEmail uuid.UUID
	startErr     error
}

func (f *fakeQueries) CachedConversations() ([]models.Conversation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached, f.hasCached
}

func (f *fakeQueries) RefreshConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshConvCalls++
	return f.cached, nil
}

func (f *fakeQueries) RefreshMessages(ctx context.Context, conversationID uuid.UUID) (*models.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshMsgCalls++
	if f.page != nil {
		return f.page, nil
	}
	return &models.MessagePage{}, nil
}

func (f *fakeQueries) CachedMessages(conversationID uuid.UUID, page int) (*models.MessagePage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.page == nil {
		return nil, false
	}
	return f.page, true
}

func (f *fakeQueries) InvalidateUnread() {}

func (f *fakeQueries) WatchMessages(conversationID uuid.UUID, onUpdate func(*models.MessagePage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchedConvs = append(f.watchedConvs, conversationID)
}

func (f *fakeQueries) StopWatch(conversationID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stoppedConvs = append(f.stoppedConvs, conversationID)
}

func (f *fakeQueries) Send(ctx context.Context, conversationID uuid.UUID, content string, attachmentURLs []string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sendCalls++
	return &models.Message{ID: uuid.New(), ConversationID: conversationID, Content: &content, AttachmentURLs: attachmentURLs}, nil
}

func (f *fakeQueries) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return nil
}

func (f *fakeQueries) StartConversationByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	return f.startByEmail, nil
}

func (f *fakeQueries) counters() (refreshConv, refreshMsg, send, markRead int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshConvCalls, f.refreshMsgCalls, f.sendCalls, f.markReadCalls
}

// fakeTransport реализует Transport для тестов контроллера
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	sent       []interface{}
	handlers   map[models.EventType][]func(models.Event)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[models.EventType][]func(models.Event))}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) IsWebSocketConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendMessage(destination string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Subscribe(eventType models.EventType, handler func(event models.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], handler)
	return func() {}
}

// emit синхронно доставляет событие подписчикам
func (f *fakeTransport) emit(event models.Event) {
	f.mu.Lock()
	handlers := append(([]func(models.Event))(nil), f.handlers[event.Type]...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

// fakeToaster собирает показанные уведомления
type fakeToaster struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (f *fakeToaster) Success(title, body string) {}

func (f *fakeToaster) Error(title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, title+" "+body)
}

func (f *fakeToaster) Info(title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = append(f.infos, title+" "+body)
}

func (f *fakeToaster) counts() (infos, errs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.infos), len(f.errors)
}

// fakeViewport считает прокрутки вниз
type fakeViewport struct {
	mu      sync.Mutex
	scrolls int
}

func (f *fakeViewport) ScrollToBottom() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrolls++
}

func (f *fakeViewport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scrolls
}

// fakeUploader возвращает URL либо ошибку
type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, filePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.worklio.dev/" + filePath, nil
}

type fixture struct {
	ctrl      *Controller
	queries   *fakeQueries
	transport *fakeTransport
	toaster   *fakeToaster
	viewport  *fakeViewport
	uploader  *fakeUploader
	state     *urlstate.MemoryState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		queries:   &fakeQueries{},
		transport: newFakeTransport(),
		toaster:   &fakeToaster{},
		viewport:  &fakeViewport{},
		uploader:  &fakeUploader{},
		state:     urlstate.NewMemoryState(),
	}

	f.ctrl = NewController(Deps{
		Queries:   f.queries,
		Transport: f.transport,
		Uploader:  f.uploader,
		Viewport:  f.viewport,
		Toaster:   f.toaster,
		State:     f.state,
		Log:       logger.Nop(),
	})
	f.ctrl.Start(context.Background())

	return f
}

func TestSelectReflectsStateAndMarksRead(t *testing.T) {
	f := newFixture(t)
	conversationID := uuid.New()

	require.NoError(t, f.ctrl.Select(context.Background(), conversationID))

	assert.Equal(t, PhaseReady, f.ctrl.Phase())
	assert.Equal(t, conversationID.String(), f.state.Get("conversationId"))

	selected, ok := f.ctrl.Selected()
	require.True(t, ok)
	assert.Equal(t, conversationID, selected)

	// Отметка о прочтении уходит не блокируя выбор
	require.Eventually(t, func() bool {
		_, _, _, markRead := f.queries.counters()
		return markRead == 1
	}, time.Second, 10*time.Millisecond)

	// Автопрокрутка вниз после загрузки
	assert.GreaterOrEqual(t, f.viewport.count(), 1)
}

func TestToastShownOncePerConversation(t *testing.T) {
	f := newFixture(t)
	active := uuid.New()
	other := uuid.New()

	f.queries.mu.Lock()
	f.queries.hasCached = true
	f.queries.cached = []models.Conversation{{ID: active}, {ID: other}}
	f.queries.mu.Unlock()

	require.NoError(t, f.ctrl.Select(context.Background(), active))

	event := models.Event{Type: models.EventNewMessage, ConversationID: other.String(), SenderName: "Борис", Preview: "Hello"}
	f.transport.emit(event)
	f.transport.emit(event)
	f.transport.emit(event)

	infos, _ := f.toaster.counts()
	assert.Equal(t, 1, infos, "на пачку событий одной беседы — ровно одно уведомление")
	assert.Contains(t, f.toaster.infos[0], "Hello")
	assert.Contains(t, f.toaster.infos[0], "Борис")
}

func TestSelectClearsNotified(t *testing.T) {
	f := newFixture(t)
	active := uuid.New()
	other := uuid.New()

	f.queries.mu.Lock()
	f.queries.hasCached = true
	f.queries.cached = []models.Conversation{{ID: active}, {ID: other}}
	f.queries.mu.Unlock()

	require.NoError(t, f.ctrl.Select(context.Background(), active))

	event := models.Event{Type: models.EventNewMessage, ConversationID: other.String(), Preview: "раз"}
	f.transport.emit(event)

	// Пользователь открыл беседу и вернулся обратно
	require.NoError(t, f.ctrl.Select(context.Background(), other))
	require.NoError(t, f.ctrl.Select(context.Background(), active))

	f.transport.emit(models.Event{Type: models.EventNewMessage, ConversationID: other.String(), Preview: "два"})

	infos, _ := f.toaster.counts()
	assert.Equal(t, 2, infos, "после повторного открытия беседы уведомления снова показываются")
}

func TestUnknownConversationTriggersListRefetch(t *testing.T) {
	f := newFixture(t)
	known := uuid.New()

	f.queries.mu.Lock()
	f.queries.hasCached = true
	f.queries.cached = []models.Conversation{{ID: known}}
	f.queries.mu.Unlock()

	f.transport.emit(models.Event{Type: models.EventNewMessage, ConversationID: uuid.New().String(), Preview: "hi"})

	require.Eventually(t, func() bool {
		refreshConv, _, _, _ := f.queries.counters()
		return refreshConv == 1
	}, time.Second, 10*time.Millisecond)
}

func TestActiveConversationRefetchedNotSpliced(t *testing.T) {
	f := newFixture(t)
	active := uuid.New()

	require.NoError(t, f.ctrl.Select(context.Background(), active))
	_, refreshAfterSelect, _, _ := f.queries.counters()

	f.transport.emit(models.Event{Type: models.EventNewMessage, ConversationID: active.String(), Preview: "hi"})

	_, refreshMsg, _, _ := f.queries.counters()
	assert.Equal(t, refreshAfterSelect+1, refreshMsg, "событие активной беседы перечитывает сообщения")

	infos, _ := f.toaster.counts()
	assert.Zero(t, infos, "для активной беседы уведомление не показывается")
}

func TestAutoscrollOnlyWhenAtBottom(t *testing.T) {
	f := newFixture(t)
	active := uuid.New()

	require.NoError(t, f.ctrl.Select(context.Background(), active))

	// Пользователь читает историю выше
	f.ctrl.OnScroll(200)
	require.False(t, f.ctrl.IsAtBottom())

	before := f.viewport.count()
	f.transport.emit(models.Event{Type: models.EventNewMessage, ConversationID: active.String()})
	assert.Equal(t, before, f.viewport.count(), "прокрутка не трогается, пока пользователь выше")

	// Пользователь вернулся вниз
	f.ctrl.OnScroll(10)
	require.True(t, f.ctrl.IsAtBottom())

	f.transport.emit(models.Event{Type: models.EventNewMessage, ConversationID: active.String()})
	assert.Equal(t, before+1, f.viewport.count())
}

func TestReadReceiptRefetchesActiveConversation(t *testing.T) {
	f := newFixture(t)
	active := uuid.New()

	require.NoError(t, f.ctrl.Select(context.Background(), active))
	_, refreshAfterSelect, _, _ := f.queries.counters()

	f.transport.emit(models.Event{Type: models.EventMessageRead, ConversationID: active.String()})

	_, refreshMsg, _, _ := f.queries.counters()
	assert.Equal(t, refreshAfterSelect+1, refreshMsg)

	// Отметка чужой беседы ничего не перечитывает
	f.transport.emit(models.Event{Type: models.EventMessageRead, ConversationID: uuid.New().String()})
	_, refreshMsg2, _, _ := f.queries.counters()
	assert.Equal(t, refreshMsg, refreshMsg2)
}

func TestEmptySendIsNoop(t *testing.T) {
	f := newFixture(t)

	// Беседа не выбрана
	f.ctrl.SetComposerText("привет")
	require.NoError(t, f.ctrl.Send(context.Background()))

	// Пустой композер при выбранной беседе
	require.NoError(t, f.ctrl.Select(context.Background(), uuid.New()))
	f.ctrl.SetComposerText("   ")
	require.NoError(t, f.ctrl.Send(context.Background()))

	_, _, sendCalls, _ := f.queries.counters()
	assert.Zero(t, sendCalls, "пустая отправка не делает сетевых вызовов")
	assert.Zero(t, f.uploader.calls)
}

func TestFailedUploadKeepsComposer(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("нет сети")

	require.NoError(t, f.ctrl.Select(context.Background(), uuid.New()))
	f.ctrl.SetComposerText("Hi")
	f.ctrl.AttachFile("cv.pdf")

	err := f.ctrl.Send(context.Background())
	require.Error(t, err)

	// Композер не тронут: можно повторить без перенабора
	assert.Equal(t, "Hi", f.ctrl.ComposerText())
	assert.Equal(t, []string{"cv.pdf"}, f.ctrl.Attachments())

	_, _, sendCalls, _ := f.queries.counters()
	assert.Zero(t, sendCalls)

	_, errs := f.toaster.counts()
	assert.Equal(t, 1, errs)
}

func TestSendSuccessClearsComposer(t *testing.T) {
	f := newFixture(t)
	conversationID := uuid.New()

	require.NoError(t, f.ctrl.Select(context.Background(), conversationID))
	f.ctrl.SetComposerText("Готово, отправляю макет")
	f.ctrl.AttachFile("mockup.png")

	require.NoError(t, f.ctrl.Send(context.Background()))

	assert.Empty(t, f.ctrl.ComposerText())
	assert.Empty(t, f.ctrl.Attachments())

	_, _, sendCalls, _ := f.queries.counters()
	assert.Equal(t, 1, sendCalls)

	// Отметка о прочтении после отправки уходит в фоне
	require.Eventually(t, func() bool {
		_, _, _, markRead := f.queries.counters()
		return markRead >= 2 // одна при выборе, одна после отправки
	}, time.Second, 10*time.Millisecond)
}

func TestSendFailureKeepsComposer(t *testing.T) {
	f := newFixture(t)
	f.queries.sendErr = errors.New("бэкенд недоступен")

	require.NoError(t, f.ctrl.Select(context.Background(), uuid.New()))
	f.ctrl.SetComposerText("Hi")

	require.Error(t, f.ctrl.Send(context.Background()))
	assert.Equal(t, "Hi", f.ctrl.ComposerText())

	_, errs := f.toaster.counts()
	assert.Equal(t, 1, errs)
}

func TestStartChatByEmailNotFound(t *testing.T) {
	f := newFixture(t)
	f.queries.startErr = queries.ErrUserNotFound

	err := f.ctrl.StartChatByEmail(context.Background(), "ghost@worklio.dev")
	require.Error(t, err)

	infos, errs := f.toaster.counts()
	assert.Equal(t, 1, infos, "ненайденный пользователь — информационное уведомление")
	assert.Zero(t, errs)

	_, ok := f.ctrl.Selected()
	assert.False(t, ok)
}

func TestStartChatByEmailSelectsConversation(t *testing.T) {
	f := newFixture(t)
	conversationID := uuid.New()
	f.queries.startByEmail = conversationID

	require.NoError(t, f.ctrl.StartChatByEmail(context.Background(), "bob@worklio.dev"))

	selected, ok := f.ctrl.Selected()
	require.True(t, ok)
	assert.Equal(t, conversationID, selected)
}

func TestStartRestoresSelectionFromState(t *testing.T) {
	conversationID := uuid.New()

	f := &fixture{
		queries:   &fakeQueries{},
		transport: newFakeTransport(),
		toaster:   &fakeToaster{},
		viewport:  &fakeViewport{},
		uploader:  &fakeUploader{},
		state:     urlstate.NewMemoryState(),
	}
	f.state.Set("conversationId", conversationID.String())

	f.ctrl = NewController(Deps{
		Queries:   f.queries,
		Transport: f.transport,
		Uploader:  f.uploader,
		Viewport:  f.viewport,
		Toaster:   f.toaster,
		State:     f.state,
		Log:       logger.Nop(),
	})
	f.ctrl.Start(context.Background())

	selected, ok := f.ctrl.Selected()
	require.True(t, ok)
	assert.Equal(t, conversationID, selected)
}

func TestConnectFailureDegradesToPolling(t *testing.T) {
	f := &fixture{
		queries:   &fakeQueries{},
		transport: newFakeTransport(),
		toaster:   &fakeToaster{},
		viewport:  &fakeViewport{},
		uploader:  &fakeUploader{},
		state:     urlstate.NewMemoryState(),
	}
	f.transport.connectErr = errors.New("сервер недоступен")

	f.ctrl = NewController(Deps{
		Queries:   f.queries,
		Transport: f.transport,
		Uploader:  f.uploader,
		Viewport:  f.viewport,
		Toaster:   f.toaster,
		State:     f.state,
		Log:       logger.Nop(),
	})
	f.ctrl.Start(context.Background())

	_, errs := f.toaster.counts()
	assert.Equal(t, 1, errs, "ошибка подключения показывается один раз")

	// Экран продолжает работать: выбор беседы запускает опрос
	require.NoError(t, f.ctrl.Select(context.Background(), uuid.New()))
	assert.Equal(t, PhaseReady, f.ctrl.Phase())
	f.queries.mu.Lock()
	watched := len(f.queries.watchedConvs)
	f.queries.mu.Unlock()
	assert.Equal(t, 1, watched)
}
