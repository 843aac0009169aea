package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/database"
	"github.com/stemsi/lingua-attempt/internal/logger"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/repository"
	"github.com/stemsi/lingua-attempt/internal/validator"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	learners := repository.NewLearnerRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	fmt.Println("=== Create New Learner ===")

	req := model.CreateLearnerRequest{
		Name:      prompt("Enter Name: "),
		Email:     prompt("Enter Email: "),
		CEFRLevel: strings.ToUpper(prompt("Enter CEFR level (A1-C2, optional): ")),
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}
	req.Password = string(bytePassword)

	if fields := validator.Struct(&req); fields != nil {
		for name, msg := range fields {
			fmt.Printf("Error: %s: %s\n", name, msg)
		}
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	learner := &model.Learner{
		Email:        req.Email,
		Name:         req.Name,
		CEFRLevel:    req.CEFRLevel,
		PasswordHash: string(hash),
	}
	if err := learners.Create(ctx, learner); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			fmt.Printf("Error: a learner with email %s already exists\n", req.Email)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Failed to create learner")
	}

	fmt.Printf("\nSuccess! Learner '%s' (%s) created with ID: %d\n", learner.Name, learner.Email, learner.ID)
}
