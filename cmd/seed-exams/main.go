package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/database"
	"github.com/stemsi/lingua-attempt/internal/logger"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/repository"
	"github.com/stemsi/lingua-attempt/internal/service"
)

//go:embed exams.json
var defaultFixture []byte

type examFixture struct {
	model.Exam
	Draft bool `json:"draft"`
}

func main() {
	file := flag.String("file", "", "exam fixture (JSON); defaults to the built-in set")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	raw := defaultFixture
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("Failed to read fixture")
		}
		raw = b
	}

	var fixtures []examFixture
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse fixture")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)

	fmt.Printf("=== Seeding %d exams ===\n", len(fixtures))

	seeded := 0
	for _, f := range fixtures {
		exam := f.Exam
		exam.Status = model.ExamStatusDraft
		if err := examRepo.Create(ctx, &exam); err != nil {
			fmt.Printf("Error creating exam %q: %v\n", exam.Title, err)
			continue
		}

		for i := range f.Questions {
			q := f.Questions[i]
			q.ExamID = exam.ID
			q.OrderNum = i + 1
			if err := questionRepo.Create(ctx, &q); err != nil {
				log.Fatal().Err(err).Str("exam", exam.Title).Int("order", q.OrderNum).Msg("Failed to create question")
			}
		}

		if !f.Draft {
			if err := examService.Publish(ctx, exam.ID); err != nil {
				log.Fatal().Err(err).Str("exam", exam.Title).Msg("Failed to publish exam")
			}
		}

		seeded++
		fmt.Printf("  %s  %s (%d questions)\n", exam.ID, exam.Title, len(f.Questions))
	}

	fmt.Printf("\nSeed completed! Added %d/%d exams.\n", seeded, len(fixtures))
}
