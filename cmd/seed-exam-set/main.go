package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/database"
	"github.com/stemsi/exam-session/internal/logger"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/repository"
	"gopkg.in/yaml.v3"
)

// examSetFile is the YAML layout accepted by -file.
type examSetFile struct {
	Name      string `yaml:"name"`
	Questions []struct {
		Part          int    `yaml:"part"`
		Kind          string `yaml:"kind"`
		CorrectChoice string `yaml:"correct_choice"`
	} `yaml:"questions"`
}

var choices = []string{"A", "B", "C", "D"}

func main() {
	file := flag.String("file", "", "YAML exam set definition")
	name := flag.String("name", "Mock Test 1", "exam set name when generating")
	count := flag.Int("questions", 50, "number of questions to generate")
	partsFlag := flag.String("parts", "1,2,3,4,5,6,7", "comma separated parts to spread generated questions over")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		set       model.ExamSet
		questions []model.Question
		err       error
	)
	if *file != "" {
		set, questions, err = loadFile(*file)
	} else {
		set, questions, err = generate(*name, *count, *partsFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	repo := repository.NewQuestionRepository(pool)

	fmt.Printf("=== Seeding exam set %q ===\n", set.Name)
	if err := repo.CreateExamSet(ctx, &set); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam set")
	}

	successCount := 0
	for i := range questions {
		if err := repo.CreateQuestion(ctx, set.ID, &questions[i]); err != nil {
			fmt.Printf("Error creating question %d: %v\n", i+1, err)
			continue
		}
		successCount++
		if successCount%10 == 0 {
			fmt.Printf("Created %d questions...\n", successCount)
		}
	}

	fmt.Printf("\nSeed completed! Exam set %s has %d/%d questions.\n", set.ID, successCount, len(questions))
}

func loadFile(path string) (model.ExamSet, []model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ExamSet{}, nil, err
	}
	var f examSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.ExamSet{}, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if strings.TrimSpace(f.Name) == "" {
		return model.ExamSet{}, nil, fmt.Errorf("%s: name is required", path)
	}

	questions := make([]model.Question, 0, len(f.Questions))
	for i, q := range f.Questions {
		if q.Part < 1 || q.Part > 99 {
			return model.ExamSet{}, nil, fmt.Errorf("%s: question %d: part %d out of range", path, i+1, q.Part)
		}
		questions = append(questions, model.Question{
			Part:          q.Part,
			Kind:          q.Kind,
			CorrectChoice: q.CorrectChoice,
			OrderNum:      i + 1,
		})
	}
	return model.ExamSet{Name: f.Name}, questions, nil
}

func generate(name string, count int, partsFlag string) (model.ExamSet, []model.Question, error) {
	if count <= 0 {
		return model.ExamSet{}, nil, fmt.Errorf("-questions must be positive")
	}
	var parts []int
	for s := range strings.SplitSeq(partsFlag, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || p < 1 || p > 99 {
			return model.ExamSet{}, nil, fmt.Errorf("invalid part %q", s)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return model.ExamSet{}, nil, fmt.Errorf("-parts is empty")
	}

	// Consecutive questions share a part, like a printed test.
	perPart := (count + len(parts) - 1) / len(parts)
	questions := make([]model.Question, count)
	for i := range count {
		questions[i] = model.Question{
			Part:          parts[i/perPart],
			Kind:          "multiple_choice",
			CorrectChoice: choices[i%len(choices)],
			OrderNum:      i + 1,
		}
	}
	return model.ExamSet{Name: name}, questions, nil
}
