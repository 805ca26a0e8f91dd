package handoff

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/voxtutor/voxtutor/pkg/core"
	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// GeminiProvider implements both roles against the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a provider using the given API key and model.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, core.NewValidationErrorWithParam("gemini api key is required", "api_key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Generate implements Provider for the teaching role.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	text, err := p.complete(ctx, teachingPrompt(req))
	if err != nil {
		return nil, err
	}
	return &Response{Content: strings.TrimSpace(text)}, nil
}

// Grade implements Provider for the grading role.
func (p *GeminiProvider) Grade(ctx context.Context, req Request) (*Response, error) {
	text, err := p.complete(ctx, gradingPrompt(req))
	if err != nil {
		return nil, err
	}
	switch req.Kind {
	case KindVivaQuestions:
		questions := parseQuestions(text)
		if len(questions) != types.VivaCount {
			return nil, fmt.Errorf("expected %d viva questions, got %d", types.VivaCount, len(questions))
		}
		return &Response{Questions: questions}, nil
	default:
		score, err := parseScore(text)
		if err != nil {
			return nil, err
		}
		return &Response{Score: &score}, nil
	}
}

func (p *GeminiProvider) complete(ctx context.Context, prompt string) (string, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

func teachingPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a voice tutor in a live session. Speak plainly, no markdown, short paragraphs suited to being read aloud.\n")
	writeModule(&b, req.Module)
	writeConversation(&b, req.Conversation)

	switch req.Kind {
	case KindReply:
		fmt.Fprintf(&b, "\nThe student just said: %q\nRespond to them directly, then steer back to the lesson.\n", req.Input)
	case KindWrapUp:
		b.WriteString("\nThe session is wrapping up. Summarize what was covered and prepare the student for a short assessment.\n")
	default:
		fmt.Fprintf(&b, "\nDeliver teaching segment %d of today's module.\n", req.Position+1)
	}
	return b.String()
}

func gradingPrompt(req Request) string {
	var b strings.Builder
	writeModule(&b, req.Module)

	switch req.Kind {
	case KindVivaQuestions:
		fmt.Fprintf(&b, "\nYou are the examiner. Write exactly %d viva questions covering today's module, one per line, no numbering, no extra text.\n", types.VivaCount)
	case KindGradeCode:
		fmt.Fprintf(&b, "\nYou are the examiner. Review this code submission against today's module and score it 0-100.\nCode:\n%s\nReply with only the integer score.\n", req.Input)
	default:
		fmt.Fprintf(&b, "\nYou are the examiner. Question: %q\nStudent answer: %q\nScore the answer 0-100. Reply with only the integer score.\n", req.Question, req.Input)
	}
	return b.String()
}

func writeModule(b *strings.Builder, module *types.DailyModule) {
	if module == nil {
		return
	}
	fmt.Fprintf(b, "Today's module (day %d): topics %s; key concepts %s.\n",
		module.Day, strings.Join(module.Topics, ", "), strings.Join(module.Concepts, ", "))
}

func writeConversation(b *strings.Builder, conversation []types.TranscriptEntry) {
	if len(conversation) == 0 {
		return
	}
	b.WriteString("Conversation so far:\n")
	// Keep the prompt bounded; the tail carries the relevant context.
	start := 0
	if len(conversation) > 20 {
		start = len(conversation) - 20
	}
	for _, entry := range conversation[start:] {
		fmt.Fprintf(b, "%s: %s\n", entry.Role, entry.Text)
	}
}

func parseQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "0123456789.-) "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseScore(text string) (int, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no score in grading response: %q", text)
	}
	score, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, err
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
