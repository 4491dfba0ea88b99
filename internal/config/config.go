package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// ストレージ設定
	DataDir   string
	AvatarDir string

	// サーバー設定
	ServerPort    string
	Env           string
	PublicBaseURL string

	// CORS設定
	AllowedOrigins []string

	// タイピング表示の有効期限（デバウンス窓）
	TypingTTL time.Duration
}

// Load loads configuration from environment variables
func Load() Config {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data/store"
	}

	avatarDir := os.Getenv("AVATAR_DIR")
	if avatarDir == "" {
		avatarDir = "./data/objects"
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	publicBaseURL := os.Getenv("PUBLIC_BASE_URL")
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:" + serverPort
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://127.0.0.1:3000"
	}

	typingTTL := 1500 * time.Millisecond
	if v := os.Getenv("TYPING_TTL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			typingTTL = time.Duration(ms) * time.Millisecond
		}
	}

	cfg := Config{
		DataDir:        dataDir,
		AvatarDir:      avatarDir,
		ServerPort:     serverPort,
		Env:            env,
		PublicBaseURL:  publicBaseURL,
		AllowedOrigins: strings.Split(allowedOrigins, ","),
		TypingTTL:      typingTTL,
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}
