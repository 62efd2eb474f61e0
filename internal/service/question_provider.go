package service

import (
	"context"
	"fmt"
	"mockexam_backend/internal/exam"
	"mockexam_backend/internal/model"
	"mockexam_backend/internal/repository"
	"strings"
)

// QuestionService draws random question sets from the bank. It is the
// engine's QuestionProvider: a short draw for any subject fails the whole
// generation, nothing is created.
type QuestionService struct {
	QuestionRepo *repository.QuestionRepository
}

func NewQuestionService(questionRepo *repository.QuestionRepository) *QuestionService {
	return &QuestionService{QuestionRepo: questionRepo}
}

func (s *QuestionService) Generate(ctx context.Context, dist []exam.SubjectCount) ([]exam.Question, error) {
	var out []exam.Question
	for _, d := range dist {
		rows, err := s.QuestionRepo.RandomBySubject(string(d.Subject), d.Count)
		if err != nil {
			return nil, err
		}
		if len(rows) < d.Count {
			return nil, fmt.Errorf("question bank has %d of %d %s questions", len(rows), d.Count, d.Subject)
		}
		for i := range rows {
			out = append(out, toEngineQuestion(&rows[i]))
		}
	}
	return out, nil
}

// CheckBank verifies the bank can serve a full paper for every configured
// subject. Run at startup; a shortfall is reported, not fatal, since the bank
// is loaded by a separate pipeline and may still be filling.
func (s *QuestionService) CheckBank(subjects []string, perSubject int) error {
	var short []string
	for _, subject := range subjects {
		n, err := s.QuestionRepo.CountBySubject(subject)
		if err != nil {
			return err
		}
		if n < int64(perSubject) {
			short = append(short, fmt.Sprintf("%s has %d of %d", subject, n, perSubject))
		}
	}
	if len(short) > 0 {
		return fmt.Errorf("question bank short: %s", strings.Join(short, "; "))
	}
	return nil
}

func toEngineQuestion(q *model.Question) exam.Question {
	return exam.Question{
		ID:          q.ID,
		Subject:     exam.Subject(q.Subject),
		ChapterID:   q.ChapterID,
		ChapterName: q.ChapterName,
		Text:        q.Text,
		Options: map[string]string{
			"A": q.OptionA,
			"B": q.OptionB,
			"C": q.OptionC,
			"D": q.OptionD,
		},
		CorrectOption: q.CorrectOption,
		Difficulty:    q.Difficulty,
		Concept:       q.Concept,
	}
}
