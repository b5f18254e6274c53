package devserver

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/utils"
)

// previewLimit — максимальная длина превью в событии push-канала
const previewLimit = 80

// Server представляет dev-бэкенд: REST API плюс WebSocket-хаб.
// Реализует внешний контракт мессенджера, чтобы клиент можно было
// гонять без боевого бэкенда.
type Server struct {
	app        *fiber.App
	store      *Store
	hub        *Hub
	jwtService *utils.JWTService
	log        *zap.SugaredLogger
}

// New создает новый экземпляр Server с демо-пользователями
func New(jwtSecret string, log *zap.SugaredLogger) *Server {
	jwtService := utils.NewJWTService(jwtSecret)

	s := &Server{
		store:      NewStore(),
		hub:        NewHub(jwtService, log),
		jwtService: jwtService,
		log:        log,
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "Worklio Dev Server",
		ErrorHandler: errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(logger.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	s.seedDemoUsers()
	s.setupRoutes()

	return s
}

// App возвращает приложение Fiber
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub возвращает WebSocket-хаб
func (s *Server) Hub() *Hub {
	return s.hub
}

// Store возвращает хранилище
func (s *Server) Store() *Store {
	return s.store
}

// errorHandler обрабатывает ошибки Fiber
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// seedDemoUsers регистрирует демо-пользователей
func (s *Server) seedDemoUsers() {
	demo := []models.User{
		{ID: uuid.New(), Username: "alice", Email: "alice@worklio.dev", FirstName: "Алиса", LastName: "Фрилансова"},
		{ID: uuid.New(), Username: "bob", Email: "bob@worklio.dev", FirstName: "Борис", LastName: "Заказчиков"},
		{ID: uuid.New(), Username: "carol", Email: "carol@worklio.dev", FirstName: "Карина", LastName: "Дизайнова"},
	}
	for _, user := range demo {
		s.store.AddUser(user)
	}
}

// setupRoutes настраивает маршруты API
func (s *Server) setupRoutes() {
	// Dev-логин: выдает токен по email без пароля
	s.app.Get("/api/dev/login", s.devLogin)

	api := s.app.Group("/api")
	api.Use(s.authMiddleware())

	api.Get("/conversations", s.listConversations)
	api.Post("/conversations", s.startConversation)
	api.Get("/conversations/:id/messages", s.getMessages)
	api.Post("/conversations/:id/messages", s.sendMessage)
	api.Post("/conversations/:id/read", s.markRead)
	api.Get("/messages/unread", s.unreadCount)
	api.Get("/users/search", s.searchUsers)
	api.Post("/users/:id/block", s.blockUser)
	api.Delete("/users/:id/block", s.unblockUser)
}

// authMiddleware создаёт middleware для проверки JWT
func (s *Server) authMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Отсутствует заголовок авторизации",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Неверный формат заголовка авторизации",
			})
		}

		userID, err := s.jwtService.ExtractUserID(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Недействительный или истекший токен",
			})
		}

		if _, err := uuid.Parse(userID); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Неверный формат ID пользователя",
			})
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// currentUser извлекает ID текущего пользователя из контекста
func currentUser(c fiber.Ctx) (uuid.UUID, error) {
	userID, _ := c.Locals("userID").(string)
	return uuid.Parse(userID)
}

// devLogin выдает токен для демо-пользователя по email
func (s *Server) devLogin(c fiber.Ctx) error {
	email := c.Query("email")
	user, ok := s.store.UserByEmail(email)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Пользователь не найден"})
	}

	token, err := s.jwtService.GenerateToken(user.ID.String())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка создания токена"})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// listConversations возвращает список бесед пользователя
func (s *Server) listConversations(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversations := s.store.ConversationsFor(userID)
	return c.JSON(fiber.Map{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// startConversation создает беседу или возвращает существующую
func (s *Server) startConversation(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		ReceiverID string `json:"receiver_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	receiverID, err := uuid.Parse(requestData.ReceiverID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID получателя"})
	}

	conversationID, isNew, err := s.store.StartConversation(userID, receiverID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	status := fiber.StatusOK
	if isNew {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"conversation_id": conversationID,
		"is_new":          isNew,
		"success":         true,
	})
}

// getMessages возвращает страницу сообщений беседы
func (s *Server) getMessages(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID беседы"})
	}

	if !s.store.IsParticipant(conversationID, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Нет доступа к этой беседе"})
	}

	page, err := strconv.Atoi(c.Query("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(c.Query("size", "50"))
	if err != nil || size <= 0 {
		size = 50
	}

	msgPage := s.store.Messages(conversationID, page, size)
	return c.JSON(msgPage)
}

// sendMessage отправляет сообщение и оповещает второго участника
func (s *Server) sendMessage(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID беседы"})
	}

	var requestData struct {
		Content        string   `json:"content"`
		AttachmentURLs []string `json:"attachment_urls"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	if requestData.Content == "" && len(requestData.AttachmentURLs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Сообщение не может быть пустым"})
	}

	message, err := s.store.AddMessage(conversationID, userID, requestData.Content, requestData.AttachmentURLs)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	}

	// Оповещаем второго участника через push-канал
	if otherID, ok := s.store.OtherParticipant(conversationID, userID); ok {
		senderName := ""
		if sender, ok := s.store.UserByID(userID); ok {
			senderName = displayName(sender)
		}
		s.hub.SendToUser(otherID, models.Event{
			Type:           models.EventNewMessage,
			ConversationID: conversationID.String(),
			MessageID:      message.ID.String(),
			SenderID:       userID.String(),
			SenderName:     senderName,
			Preview:        truncatePreview(previewText(message)),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"success": true,
	})
}

// markRead отмечает беседу прочитанной и рассылает отметку о прочтении
func (s *Server) markRead(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID беседы"})
	}

	if !s.store.IsParticipant(conversationID, userID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Нет доступа к этой беседе"})
	}

	if s.store.MarkRead(conversationID, userID) {
		// Отметка о прочтении интересна отправителю сообщений
		if otherID, ok := s.store.OtherParticipant(conversationID, userID); ok {
			s.hub.SendToUser(otherID, models.Event{
				Type:           models.EventMessageRead,
				ConversationID: conversationID.String(),
				SenderID:       userID.String(),
			})
		}
	}

	return c.JSON(fiber.Map{"success": true})
}

// unreadCount возвращает агрегат непрочитанных сообщений
func (s *Server) unreadCount(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	return c.JSON(s.store.UnreadFor(userID))
}

// searchUsers ищет пользователей по email
func (s *Server) searchUsers(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	users := s.store.SearchUsersByEmail(c.Query("email"))

	// Себя в результатах поиска не показываем
	filtered := make([]models.User, 0, len(users))
	for _, user := range users {
		if user.ID != userID {
			filtered = append(filtered, user)
		}
	}

	return c.JSON(fiber.Map{
		"users": filtered,
		"count": len(filtered),
	})
}

// blockUser блокирует пользователя
func (s *Server) blockUser(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	blockedID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	s.store.Block(userID, blockedID)
	return c.JSON(fiber.Map{"success": true})
}

// unblockUser снимает блокировку пользователя
func (s *Server) unblockUser(c fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	blockedID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID пользователя"})
	}

	s.store.Unblock(userID, blockedID)
	return c.JSON(fiber.Map{"success": true})
}

// truncatePreview усекает превью до предельной длины
func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit]) + "…"
}
