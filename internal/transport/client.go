package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/models"
)

const (
	// Максимальное время ожидания pong от сервера
	pongWait = 60 * time.Second

	// Интервал отправки ping-сообщений серверу
	pingPeriod = (pongWait * 9) / 10

	// Таймаут записи одного сообщения
	writeWait = 10 * time.Second

	// Максимальный размер входящего сообщения
	maxMessageSize = 512 * 1024 // 512KB

	// Размер буфера исходящих сообщений
	sendBufferSize = 256
)

// Handler обрабатывает входящее событие push-канала
type Handler = func(event models.Event)

// frame представляет исходящий кадр push-канала
type frame struct {
	Destination string      `json:"destination"`
	Payload     interface{} `json:"payload"`
}

// Client представляет клиентское WebSocket-соединение с push-каналом.
// Входящие события раздаются всем подписчикам соответствующего типа;
// Subscribe возвращает функцию отписки.
type Client struct {
	url   string
	token string
	log   *zap.SugaredLogger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	send      chan []byte
	done      chan struct{}

	subsMu sync.RWMutex
	subs   map[models.EventType]map[uint64]Handler
	nextID uint64
}

// NewClient создает новый экземпляр Client
func NewClient(url, token string, log *zap.SugaredLogger) *Client {
	return &Client{
		url:   url,
		token: token,
		log:   log,
		subs:  make(map[models.EventType]map[uint64]Handler),
	}
}

// Connect устанавливает соединение и запускает горутины чтения и записи.
// При ошибке соединение не устанавливается, клиент остается рабочим
// в режиме без push-канала.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("ошибка при подключении к push-каналу: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.send = make(chan []byte, sendBufferSize)
	c.done = make(chan struct{})

	go c.readPump(conn, c.done)
	go c.writePump(conn, c.send, c.done)

	c.log.Debugw("push-канал подключен", "url", c.url)
	return nil
}

// Disconnect закрывает соединение и останавливает горутины.
// Подписки сохраняются и продолжат работать после переподключения.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}

	close(c.done)
	c.conn.Close()
	c.conn = nil
	c.connected = false

	c.log.Debugw("push-канал отключен")
}

// IsWebSocketConnected сообщает, активно ли соединение
func (c *Client) IsWebSocketConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SendMessage отправляет полезную нагрузку в указанный destination.
// Отправка неблокирующая: при переполнении буфера кадр отбрасывается,
// сервер остается источником истины через REST.
func (c *Client) SendMessage(destination string, payload interface{}) error {
	c.mu.RLock()
	connected := c.connected
	send := c.send
	c.mu.RUnlock()

	if !connected {
		return fmt.Errorf("push-канал не подключен")
	}

	data, err := json.Marshal(frame{Destination: destination, Payload: payload})
	if err != nil {
		return fmt.Errorf("ошибка при сериализации кадра: %w", err)
	}

	select {
	case send <- data:
		return nil
	default:
		return fmt.Errorf("буфер отправки push-канала переполнен")
	}
}

// Subscribe регистрирует обработчик событий указанного типа
// и возвращает функцию отписки
func (c *Client) Subscribe(eventType models.EventType, handler Handler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.subs[eventType] == nil {
		c.subs[eventType] = make(map[uint64]Handler)
	}

	c.nextID++
	id := c.nextID
	c.subs[eventType][id] = handler

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs[eventType], id)
	}
}

// dispatch раздает событие всем подписчикам его типа
func (c *Client) dispatch(event models.Event) {
	c.subsMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[event.Type]))
	for _, h := range c.subs[event.Type] {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// readPump читает входящие кадры и раздает их подписчикам
func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer c.markDisconnected(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnw("push-канал закрыт с ошибкой", "err", err)
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(message, &event); err != nil {
			// Некорректный кадр не должен ронять экран
			c.log.Warnw("ошибка разбора события push-канала", "err", err)
			continue
		}

		c.dispatch(event)
	}
}

// writePump отправляет кадры серверу и поддерживает соединение ping-ами
func (c *Client) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warnw("ошибка записи в push-канал", "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// markDisconnected помечает соединение разорванным, если оно
// не было закрыто явно через Disconnect
func (c *Client) markDisconnected(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-done:
		// Соединение закрыто явно
		return
	default:
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	close(done)
}
