package cmd

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	logging "orianna/pkg/logger/pkg"
)

func Execute() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as is")
	}

	viper.SetConfigFile("./config/config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	if err := logging.InitLogger(logging.Config{
		Level:  viper.GetString("log.level"),
		Pretty: viper.GetBool("log.pretty"),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger, err := logging.NewLogger(logging.Config{
		Level:  viper.GetString("log.level"),
		Pretty: viper.GetBool("log.pretty"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	startSSE(logger)
	startHTTP(logger)
}
