package main

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"coursehub/internal/blob"
	"coursehub/internal/config"
	"coursehub/internal/handler"
	"coursehub/internal/store"
)

func main() {
	// .envファイルを読み込み
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  .env file not found, using default values: %v", err)
	}

	// 環境変数を読み込み
	cfg := config.Load()

	// ドキュメントストアを初期化
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("❌ Failed to open document store: %v", err)
	}
	defer st.Close()
	log.Println("✅ Document store opened")

	// オブジェクトストア（アバター画像など）を初期化
	blobs, err := blob.NewDirStore(cfg.AvatarDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open object store: %v", err)
	}

	// ハンドラー初期化
	h := handler.New(st, cfg, blobs)
	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PUT"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	httpHandler := c.Handler(router)

	fmt.Println("========================================")
	fmt.Println("  Coursehub API Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	fmt.Printf("  Store: %s\n", filepath.Clean(cfg.DataDir))
	fmt.Printf("  Objects: %s\n", filepath.Clean(cfg.AvatarDir))
	fmt.Printf("  Typing TTL: %s\n", cfg.TypingTTL)
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")
	log.Println("🚀 Server started successfully")
	log.Fatal(http.ListenAndServe(":"+cfg.ServerPort, httpHandler))
}
