package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"payment-service/internal/consumers"
	"payment-service/internal/database"
	"payment-service/internal/services"
	"payment-service/internal/store"
	"payment-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	// Connect DB
	database.Connect()
	trxStore := store.NewGormStore(database.DB)

	darajaService := services.NewDarajaService(services.DarajaConfigFromEnv())
	paymentConfig := services.PaymentConfigFromEnv()

	processor := consumers.NewQueryProcessor(trxStore, darajaService, paymentConfig.ExpireAfter)
	w := worker.NewWorker(processor)

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 10,
		},
	)

	mux := asynq.NewServeMux()
	w.Register(mux)

	log.Println("Worker starting...")
	if err := srv.Run(mux); err != nil {
		log.Fatalf("Could not run worker server: %v", err)
	}
}
