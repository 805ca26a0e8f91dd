// Package handoff gives the session controller a uniform call contract to
// the external teaching-content and grading roles, with timeouts, retries,
// circuit breaking, and a fallback bank.
package handoff

import (
	"context"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Role selects which external agent a request is for.
type Role string

const (
	// RoleTeaching generates teaching segments, replies, and wrap-up content.
	RoleTeaching Role = "teaching"
	// RoleGrading produces viva questions and grades answers and code.
	RoleGrading Role = "grading"
)

// Kind describes what a request asks the role to produce.
type Kind string

const (
	// KindSegment asks for the next teaching segment at the given position.
	KindSegment Kind = "segment"
	// KindReply asks for a response to a user interjection.
	KindReply Kind = "reply"
	// KindWrapUp asks for session wrap-up content.
	KindWrapUp Kind = "wrap_up"
	// KindVivaQuestions asks for exactly three viva questions.
	KindVivaQuestions Kind = "viva_questions"
	// KindGradeAnswer asks for a 0-100 score of one viva answer.
	KindGradeAnswer Kind = "grade_answer"
	// KindGradeCode asks for a 0-100 review score of submitted code.
	KindGradeCode Kind = "grade_code"
)

// Request is the uniform request shape for both roles.
type Request struct {
	SessionID string
	UserID    string
	Phase     types.Phase
	Kind      Kind

	Module       *types.DailyModule
	Conversation []types.TranscriptEntry

	// Position is the teaching-position index for KindSegment.
	Position int
	// Question is the viva question being graded for KindGradeAnswer.
	Question string
	// Input is the user utterance, viva answer, or code under review.
	Input string
}

// Response is the uniform response shape for both roles.
type Response struct {
	// Content is generated teaching text.
	Content string
	// Questions holds exactly types.VivaCount entries for KindVivaQuestions.
	Questions []string
	// Score is set for grading kinds.
	Score *int
	// Fallback marks content served from the predefined bank.
	Fallback bool
}

// Provider implements both roles against a concrete backend. Selection
// between roles is by method, not by runtime type inspection.
type Provider interface {
	// Generate serves the teaching role.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Grade serves the grading role.
	Grade(ctx context.Context, req Request) (*Response, error)
}
