package handoff

import (
	"fmt"
	"strings"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// Bank is the predefined content and question bank used while a role's
// circuit is open. Everything it produces is deterministic and derived from
// the curriculum module, so a degraded session still reaches conclusion.
type Bank struct{}

// NewBank creates the fallback bank.
func NewBank() *Bank {
	return &Bank{}
}

// Generate serves teaching-role requests from canned templates.
func (b *Bank) Generate(req Request) *Response {
	switch req.Kind {
	case KindReply:
		return &Response{
			Fallback: true,
			Content:  "Good question. Let's hold that thought and keep it in mind as we continue with today's material.",
		}
	case KindWrapUp:
		return &Response{
			Fallback: true,
			Content: fmt.Sprintf(
				"Let's wrap up. Today we covered %s. Take a moment to review the key concepts before your assessment.",
				joinOr(topicsOf(req.Module), "today's topics"),
			),
		}
	default:
		topics := topicsOf(req.Module)
		topic := "today's topic"
		if len(topics) > 0 {
			topic = topics[req.Position%len(topics)]
		}
		return &Response{
			Fallback: true,
			Content: fmt.Sprintf(
				"Let's continue with %s. Work through the example in your notes, and tell me when you're ready to move on.",
				topic,
			),
		}
	}
}

// Grade serves grading-role requests from the question bank and a
// concept-overlap heuristic.
func (b *Bank) Grade(req Request) *Response {
	switch req.Kind {
	case KindVivaQuestions:
		return &Response{Fallback: true, Questions: b.vivaQuestions(req.Module)}
	case KindGradeAnswer, KindGradeCode:
		score := heuristicScore(req.Module, req.Input)
		return &Response{Fallback: true, Score: &score}
	default:
		score := 0
		return &Response{Fallback: true, Score: &score}
	}
}

// vivaQuestions returns exactly types.VivaCount questions, preferring the
// module's own question list and padding from generic templates.
func (b *Bank) vivaQuestions(module *types.DailyModule) []string {
	out := make([]string, 0, types.VivaCount)
	if module != nil {
		for _, q := range module.Questions {
			if len(out) == types.VivaCount {
				break
			}
			out = append(out, q)
		}
	}
	generic := []string{
		"Explain the most important concept you learned today in your own words.",
		"Describe a practical situation where you would apply what we covered.",
		"What part of today's material would you want to revisit, and why?",
	}
	for _, q := range generic {
		if len(out) == types.VivaCount {
			break
		}
		out = append(out, q)
	}
	return out
}

// heuristicScore grades by how many module concepts the answer mentions.
// It is a floor, not a judgment: degraded sessions should not zero out a
// user who clearly engaged with the material.
func heuristicScore(module *types.DailyModule, answer string) int {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return 0
	}
	score := 40
	if module != nil && len(module.Concepts) > 0 {
		hits := 0
		for _, c := range module.Concepts {
			if c != "" && strings.Contains(answer, strings.ToLower(c)) {
				hits++
			}
		}
		score += (hits * 60) / len(module.Concepts)
	} else if len(strings.Fields(answer)) >= 10 {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

func topicsOf(module *types.DailyModule) []string {
	if module == nil {
		return nil
	}
	return module.Topics
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, ", ")
}
