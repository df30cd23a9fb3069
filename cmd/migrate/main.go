package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	dbFlag := flag.String("db", "", "Database connection string (optional if DB_* env vars are set)")
	downFlag := flag.Bool("down", false, "Roll back all migrations instead of applying them")
	sourceFlag := flag.String("source", "file://migrations", "Migration source URL")
	flag.Parse()

	// Load .env if present
	_ = godotenv.Load()

	connStr := *dbFlag
	if connStr == "" {
		user := os.Getenv("DB_USER")
		password := os.Getenv("DB_PASSWORD")
		host := os.Getenv("DB_HOST")
		port := os.Getenv("DB_PORT")
		name := os.Getenv("DB_NAME")
		if user == "" || host == "" || port == "" || name == "" {
			fmt.Println("Error: --db flag or DB_* env vars (DB_USER, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
			os.Exit(1)
		}
		connStr = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, name)
	}

	m, err := migrate.New(*sourceFlag, connStr)
	if err != nil {
		fmt.Printf("Failed to initialize migrations: %v\n", err)
		os.Exit(1)
	}

	if *downFlag {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && err != migrate.ErrNoChange {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied successfully")
}
