package integrity

import (
	"context"
	"fmt"
	"log"

	"github.com/studiumlabs/studium/internal/store"
)

// maxExcerptLength bounds the copied message content on a flag.
const maxExcerptLength = 500

// FlagStore is the persistence dependency. Satisfied by *store.Store.
type FlagStore interface {
	CreateFlag(ctx context.Context, rec store.FlagRecord, actor string) (store.FlagRecord, error)
}

// Screening identifies the message being validated.
type Screening struct {
	MessageID string
	StudentID string
	CourseID  string
	Input     string
}

// Service validates inputs and persists flags for flag and block
// verdicts. A flag that cannot be persisted fails the whole screening:
// an integrity signal is never dropped silently.
type Service struct {
	Validator *Validator
	Flags     FlagStore

	logger *log.Logger
}

// NewService builds the screening service.
func NewService(v *Validator, flags FlagStore) *Service {
	return &Service{
		Validator: v,
		Flags:     flags,
		logger:    log.New(log.Writer(), "[INTEGRITY] ", log.LstdFlags),
	}
}

// Screen validates one input and records a flag when the verdict is
// flag or block. The returned flag record is zero-valued for allow.
func (s *Service) Screen(ctx context.Context, sc Screening) (Verdict, store.FlagRecord, error) {
	verdict := s.Validator.Validate(sc.Input)
	if verdict.Decision == DecisionAllow {
		return verdict, store.FlagRecord{}, nil
	}

	excerpt := sc.Input
	if len(excerpt) > maxExcerptLength {
		excerpt = excerpt[:maxExcerptLength]
	}
	rec, err := s.Flags.CreateFlag(ctx, store.FlagRecord{
		SourceMessageID: sc.MessageID,
		MessageExcerpt:  excerpt,
		StudentID:       sc.StudentID,
		CourseID:        sc.CourseID,
		Severity:        verdict.Severity,
		Details:         fmt.Sprintf("rule %s: %s", verdict.Rule, verdict.Reason),
	}, "system")
	if err != nil {
		return verdict, store.FlagRecord{}, fmt.Errorf("persist integrity flag: %w", err)
	}
	s.logger.Printf("%s verdict for student %s (rule %s, flag %s)", verdict.Decision, sc.StudentID, verdict.Rule, rec.ID)
	return verdict, rec, nil
}
