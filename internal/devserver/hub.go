package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/utils"
)

const (
	hubPongWait       = 60 * time.Second
	hubPingPeriod     = (hubPongWait * 9) / 10
	hubWriteWait      = 10 * time.Second
	hubMaxMessageSize = 512 * 1024
	hubSendBuffer     = 256
)

// Hub представляет менеджер WebSocket-соединений dev-бэкенда:
// раздает события всем соединениям адресата
type Hub struct {
	jwtService *utils.JWTService
	log        *zap.SugaredLogger
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*hubClient]bool // userID -> соединения
}

// hubClient представляет одно WebSocket-соединение пользователя
type hubClient struct {
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
}

// NewHub создает новый экземпляр Hub
func NewHub(jwtService *utils.JWTService, log *zap.SugaredLogger) *Hub {
	return &Hub{
		jwtService: jwtService,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]map[*hubClient]bool),
	}
}

// Handler возвращает HTTP-обработчик, устанавливающий
// WebSocket-соединение. Токен принимается в заголовке
// Authorization или в параметре token.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			authHeader := r.Header.Get("Authorization")
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				token = parts[1]
			}
		}

		userIDStr, err := h.jwtService.ExtractUserID(token)
		if err != nil {
			http.Error(w, "недействительный токен", http.StatusUnauthorized)
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			http.Error(w, "неверный формат ID пользователя", http.StatusUnauthorized)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warnw("ошибка при установке WebSocket-соединения", "err", err)
			return
		}

		client := &hubClient{
			userID: userID,
			conn:   conn,
			send:   make(chan []byte, hubSendBuffer),
			hub:    h,
		}

		h.addClient(client)
		go client.readPump()
		go client.writePump()
	})
}

// addClient регистрирует соединение пользователя
func (h *Hub) addClient(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*hubClient]bool)
	}
	h.clients[client.userID][client] = true

	h.log.Debugw("WebSocket-клиент подключен", "user_id", client.userID)
}

// removeClient удаляет соединение пользователя
func (h *Hub) removeClient(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}

	h.log.Debugw("WebSocket-клиент отключен", "user_id", client.userID)
}

// SendToUser отправляет событие всем соединениям пользователя.
// Пользователь оффлайн — событие просто теряется: клиент
// догонит состояние опросом.
func (h *Hub) SendToUser(userID uuid.UUID, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warnw("ошибка сериализации события", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[userID] {
		select {
		case client.send <- data:
		default:
			// Клиент слишком медленный, соединение закрывается
			h.log.Warnw("буфер отправки переполнен, закрываем соединение", "user_id", userID)
			client.conn.Close()
		}
	}
}

// Shutdown закрывает все соединения
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.conn.Close()
		}
	}
	h.clients = make(map[uuid.UUID]map[*hubClient]bool)
}

// readPump читает входящие кадры клиента. Dev-бэкенд их
// не обрабатывает (REST — источник истины), но чтение нужно
// для обслуживания pong и обнаружения разрыва.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(hubMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump отправляет события клиенту и поддерживает соединение ping-ами
func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
