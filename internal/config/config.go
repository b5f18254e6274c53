package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации клиента
type Config struct {
	APIBaseURL       string
	WebSocketURL     string
	Token            string
	JWTSecret        string
	CloudinaryConfig CloudinaryConfig
	ChatConfig       ChatConfig
	AppEnv           string
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadFolder string
}

// ChatConfig содержит настройки слоя запросов чата
type ChatConfig struct {
	PollInterval time.Duration // интервал фонового опроса открытого чата
	ListTTL      time.Duration // время жизни кэша списка чатов
	UnreadTTL    time.Duration // время жизни кэша счетчика непрочитанных
	PageSize     int           // размер страницы сообщений
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	cloudinaryConfig := CloudinaryConfig{
		CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
		APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
		APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
		UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "worklio_chat"),
		UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "chat_attachments"),
	}

	chatConfig := ChatConfig{
		PollInterval: getEnvDuration("CHAT_POLL_INTERVAL", 3*time.Second),
		ListTTL:      getEnvDuration("CHAT_LIST_TTL", 2*time.Minute),
		UnreadTTL:    getEnvDuration("UNREAD_TTL", 15*time.Second),
		PageSize:     getEnvInt("CHAT_PAGE_SIZE", 50),
	}

	return &Config{
		APIBaseURL:       getEnv("WORKLIO_API_URL", "http://localhost:8080"),
		WebSocketURL:     getEnv("WORKLIO_WS_URL", "ws://localhost:8081/ws"),
		Token:            getEnv("WORKLIO_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		CloudinaryConfig: cloudinaryConfig,
		ChatConfig:       chatConfig,
		AppEnv:           getEnv("APP_ENV", "production"),
	}
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения как time.Duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Неверное значение %s=%q, используем %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvInt получает переменную окружения как целое число
func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Неверное значение %s=%q, используем %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
