package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rajivgeraev/worklio-client/internal/api"
	"github.com/rajivgeraev/worklio-client/internal/config"
	"github.com/rajivgeraev/worklio-client/internal/controller"
	"github.com/rajivgeraev/worklio-client/internal/logger"
	"github.com/rajivgeraev/worklio-client/internal/models"
	"github.com/rajivgeraev/worklio-client/internal/queries"
	"github.com/rajivgeraev/worklio-client/internal/toast"
	"github.com/rajivgeraev/worklio-client/internal/transport"
	"github.com/rajivgeraev/worklio-client/internal/uploads"
	"github.com/rajivgeraev/worklio-client/internal/urlstate"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	if cfg.Token == "" {
		log.Fatal("❌ Ошибка: не задан WORKLIO_TOKEN (токен можно получить у dev-сервера: /api/dev/login?email=alice@worklio.dev)")
	}

	zlog := logger.New(cfg.AppEnv)
	defer zlog.Sync()

	// Создаём REST-клиент
	apiClient, err := api.NewClient(cfg, zlog)
	if err != nil {
		log.Fatalf("❌ Ошибка при создании API-клиента: %v", err)
	}

	// Слой запросов с кэшем и фоновым опросом
	querySvc := queries.NewService(apiClient, cfg.ChatConfig, zlog)
	defer querySvc.StopAllWatches()

	// Push-канал
	wsClient := transport.NewClient(cfg.WebSocketURL, cfg.Token, zlog)

	// Загрузчик вложений: без настроек Cloudinary вложения недоступны
	var uploader controller.Uploader
	if cfg.CloudinaryConfig.CloudName != "" {
		cloudinaryUploader, err := uploads.NewCloudinaryUploader(cfg, zlog)
		if err != nil {
			log.Fatalf("❌ Ошибка при инициализации Cloudinary: %v", err)
		}
		uploader = cloudinaryUploader
	} else {
		uploader = disabledUploader{}
	}

	viewport := &termViewport{}
	ctrl := controller.NewController(controller.Deps{
		Queries:   querySvc,
		Transport: wsClient,
		Uploader:  uploader,
		Viewport:  viewport,
		Toaster:   toast.NewLogToaster(zlog),
		State:     urlstate.NewFileState(".worklio_state"),
		Log:       zlog,
	})
	viewport.ctrl = ctrl
	defer ctrl.Close()

	ctx := context.Background()
	ctrl.Start(ctx)

	fmt.Println("✅ Worklio Messenger. Команды: /chats, /open N, /new email, /attach файл, /unread, /block, /unblock, /quit")

	repl(ctx, ctrl, querySvc)
}

// repl читает команды пользователя из терминала
func repl(ctx context.Context, ctrl *controller.Controller, querySvc *queries.Service) {
	var lastList []models.Conversation

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/chats":
			conversations, err := querySvc.ListConversations(ctx)
			if err != nil {
				fmt.Printf("Ошибка: %v\n", err)
				continue
			}
			lastList = conversations
			printConversations(conversations)

		case strings.HasPrefix(line, "/open "):
			index, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil || index < 1 || index > len(lastList) {
				fmt.Println("Укажите номер беседы из /chats")
				continue
			}
			if err := ctrl.Select(ctx, lastList[index-1].ID); err != nil {
				fmt.Printf("Ошибка: %v\n", err)
			}

		case strings.HasPrefix(line, "/new "):
			email := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
			if err := ctrl.StartChatByEmail(ctx, email); err != nil {
				continue // уведомление уже показано контроллером
			}

		case strings.HasPrefix(line, "/attach "):
			ctrl.AttachFile(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
			fmt.Printf("Файлы к отправке: %v\n", ctrl.Attachments())

		case line == "/unread":
			summary, err := querySvc.UnreadCount(ctx)
			if err != nil {
				fmt.Printf("Ошибка: %v\n", err)
				continue
			}
			fmt.Printf("Непрочитанных сообщений: %d\n", summary.Total)

		case line == "/block", line == "/unblock":
			otherID, ok := otherParticipant(ctrl, lastList, querySvc.UserID())
			if !ok {
				fmt.Println("Сначала откройте беседу через /open")
				continue
			}
			var err error
			if line == "/block" {
				err = querySvc.BlockUser(ctx, otherID)
			} else {
				err = querySvc.UnblockUser(ctx, otherID)
			}
			if err != nil {
				fmt.Printf("Ошибка: %v\n", err)
			} else {
				fmt.Println("Готово")
			}

		default:
			ctrl.SetComposerText(line)
			if err := ctrl.Send(ctx); err != nil {
				continue // уведомление уже показано контроллером
			}
		}
	}
}

// otherParticipant находит второго участника активной беседы
func otherParticipant(ctrl *controller.Controller, conversations []models.Conversation, userID uuid.UUID) (uuid.UUID, bool) {
	selected, ok := ctrl.Selected()
	if !ok {
		return uuid.Nil, false
	}
	for _, conversation := range conversations {
		if conversation.ID == selected {
			if conversation.SenderID == userID {
				return conversation.ReceiverID, true
			}
			return conversation.SenderID, true
		}
	}
	return uuid.Nil, false
}

// printConversations печатает список бесед
func printConversations(conversations []models.Conversation) {
	if len(conversations) == 0 {
		fmt.Println("Бесед пока нет — начните новую: /new email")
		return
	}
	for i, conversation := range conversations {
		badge := ""
		if conversation.UnreadCount > 0 {
			badge = fmt.Sprintf(" [%d]", conversation.UnreadCount)
		}
		title := conversation.OtherUserName
		if conversation.Type == models.ConversationProject && conversation.ProjectTitle != "" {
			title = conversation.ProjectTitle
		}
		fmt.Printf("%d. %s%s — %s\n", i+1, title, badge, conversation.LastMessageText)
	}
}

// termViewport реализует Viewport для терминала:
// прокрутка вниз — это перерисовка хвоста беседы
type termViewport struct {
	ctrl *controller.Controller
}

func (v *termViewport) ScrollToBottom() {
	if v.ctrl == nil {
		return
	}
	messages := v.ctrl.Messages()
	if len(messages) == 0 {
		return
	}

	tail := messages
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}

	fmt.Println("--------")
	for _, message := range tail {
		content := ""
		if message.Content != nil {
			content = *message.Content
		}
		marks := ""
		if message.IsRead {
			marks = " ✓✓"
		}
		attachments := ""
		if len(message.AttachmentURLs) > 0 {
			attachments = fmt.Sprintf(" (вложений: %d)", len(message.AttachmentURLs))
		}
		fmt.Printf("[%s] %s%s%s\n", message.SentAt.Format("15:04"), content, attachments, marks)
	}
}

// disabledUploader возвращает ошибку вместо загрузки,
// когда Cloudinary не настроен
type disabledUploader struct{}

func (disabledUploader) Upload(ctx context.Context, filePath string) (string, error) {
	return "", fmt.Errorf("загрузка вложений не настроена (CLOUDINARY_CLOUD_NAME)")
}
