package main

import (
	"log"
	"net/http"

	"github.com/rajivgeraev/worklio-client/internal/config"
	"github.com/rajivgeraev/worklio-client/internal/devserver"
	"github.com/rajivgeraev/worklio-client/internal/logger"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	if cfg.JWTSecret == "" {
		log.Fatal("❌ Ошибка: не задана переменная окружения JWT_SECRET")
	}

	zlog := logger.New(cfg.AppEnv)
	defer zlog.Sync()

	// Создаём dev-бэкенд: REST плюс WebSocket-хаб
	server := devserver.New(cfg.JWTSecret, zlog)
	defer server.Hub().Shutdown()

	// WebSocket-хаб слушает на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/ws", server.Hub().Handler())

		log.Println("✅ WebSocket-хаб запущен на порту 8081")
		log.Fatal(http.ListenAndServe(":8081", mux))
	}()

	// Запускаем REST API
	log.Println("✅ Worklio Dev Server запущен на порту 8080")
	log.Println("ℹ️ Токен демо-пользователя: GET /api/dev/login?email=alice@worklio.dev")
	log.Fatal(server.App().Listen(":8080"))
}
