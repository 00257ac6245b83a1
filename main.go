package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"payment-service/internal/database"
	"payment-service/internal/handlers"
	"payment-service/internal/services"
	"payment-service/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	trxStore := store.NewGormStore(db)

	// Gateway client
	darajaService := services.NewDarajaService(services.DarajaConfigFromEnv())

	// Redis/Asynq client for the reconciliation sweep
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	paymentService := services.NewPaymentService(
		trxStore,
		trxStore,
		darajaService,
		asynqClient,
		services.PaymentConfigFromEnv(),
	)

	// Initialize Gin
	r := gin.Default()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to the Mpesa payment service",
		})
	})

	paymentHandler := handlers.NewPaymentHandler(paymentService)
	paymentHandler.RegisterRoutes(r)

	// Start the pending-transaction sweep
	paymentService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
