package main

import (
	"log"

	"github.com/joho/godotenv"

	"payment-service/internal/database"
)

func main() {
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	database.Connect()
	database.Migrate()

	log.Println("Migration complete")
}
