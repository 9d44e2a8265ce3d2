// Command walletctl runs one-off operator tasks against the wallet database.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/transfa/wallet-service/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
