package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"helpdesk-chat-client/internal/types"
)

// Options configures the gateway. BackendBaseURL points at the remote
// customer-service backend; the completion fields configure the
// openai-compatible fallback used when the structured path fails.
type Options struct {
	BackendBaseURL  string
	Timeout         time.Duration
	CompletionKey   string
	CompletionBase  string
	CompletionModel string
	System          string
	FallbackReply   string
}

// Gateway normalizes every response source into one result shape. Respond
// walks an ordered chain of attempts and never returns an error: when all
// attempts fail the canned apology is the reply, so the conversation can
// never dead-end on a silent failure.
type Gateway struct {
	backend       *backendClient
	attempts      []attempt
	fallbackReply string
}

type attempt interface {
	name() string
	respond(ctx context.Context, query string) (*types.NormalizedResponse, error)
}

func New(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	backend := &backendClient{
		baseURL: strings.TrimRight(opts.BackendBaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	g := &Gateway{
		backend:       backend,
		fallbackReply: opts.FallbackReply,
	}
	g.attempts = append(g.attempts, &structuredAttempt{backend: backend})
	if opts.CompletionKey != "" || opts.CompletionBase != "" {
		cc := openai.DefaultConfig(opts.CompletionKey)
		if opts.CompletionBase != "" {
			cc.BaseURL = opts.CompletionBase
		}
		g.attempts = append(g.attempts, &completionAttempt{
			client: openai.NewClientWithConfig(cc),
			model:  opts.CompletionModel,
			system: opts.System,
		})
	}
	return g
}

// Respond resolves user text into a NormalizedResponse, degrading through
// the attempt chain.
func (g *Gateway) Respond(ctx context.Context, query string) *types.NormalizedResponse {
	for _, a := range g.attempts {
		resp, err := a.respond(ctx, query)
		if err == nil && resp != nil {
			return resp
		}
		log.Printf("[gateway] %s attempt failed: %v", a.name(), err)
	}
	return &types.NormalizedResponse{
		IsFAQ:     false,
		Response:  g.fallbackReply,
		Schedule:  nil,
		Sentiment: neutralSentiment(),
	}
}

// Transcribe submits an audio file to the transcription endpoint. Unlike
// text chat there is no fallback text worth showing, so failures surface.
func (g *Gateway) Transcribe(ctx context.Context, filename string, audio io.Reader) (*types.Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.backend.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var envelope struct {
		Transcription string          `json:"transcription"`
		IsFAQ         bool            `json:"is_faq"`
		Response      string          `json:"response"`
		Schedule      *types.Schedule `json:"schedule"`
		Sentiment     types.Sentiment `json:"sentiment"`
	}
	if err := g.backend.do(req, &envelope); err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if strings.TrimSpace(envelope.Transcription) == "" {
		return nil, fmt.Errorf("transcription failed: empty transcript")
	}
	return &types.Transcription{
		Text: envelope.Transcription,
		Response: types.NormalizedResponse{
			IsFAQ:     envelope.IsFAQ,
			Response:  envelope.Response,
			Schedule:  envelope.Schedule,
			Sentiment: envelope.Sentiment,
		},
	}, nil
}

// ScheduleRecord is a callback entry as the backend's dashboard API returns it.
type ScheduleRecord struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	Sentiment string `json:"sentiment"`
	Notes     string `json:"notes,omitempty"`
}

// ListSchedules fetches all callback schedules for the dashboard.
func (g *Gateway) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.backend.baseURL+"/api/schedules", nil)
	if err != nil {
		return nil, err
	}
	var out []ScheduleRecord
	if err := g.backend.do(req, &out); err != nil {
		return nil, fmt.Errorf("list schedules failed: %w", err)
	}
	return out, nil
}

// UpdateScheduleStatus sets the status (and optional notes) of one schedule.
func (g *Gateway) UpdateScheduleStatus(ctx context.Context, scheduleID, status, notes string) error {
	form := url.Values{"status": {status}, "notes": {notes}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.backend.baseURL+"/api/update-schedule/"+url.PathEscape(scheduleID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := g.backend.do(req, nil); err != nil {
		return fmt.Errorf("update schedule failed: %w", err)
	}
	return nil
}

// ListFAQs fetches the backend's question -> answer map.
func (g *Gateway) ListFAQs(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.backend.baseURL+"/api/faq", nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := g.backend.do(req, &out); err != nil {
		return nil, fmt.Errorf("list faqs failed: %w", err)
	}
	return out, nil
}

// AddFAQ adds one canned answer to the backend's FAQ set.
func (g *Gateway) AddFAQ(ctx context.Context, question, answer string) error {
	form := url.Values{"question": {question}, "answer": {answer}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.backend.baseURL+"/api/add-faq", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := g.backend.do(req, nil); err != nil {
		return fmt.Errorf("add faq failed: %w", err)
	}
	return nil
}

// backendClient is the shared HTTP plumbing for the structured backend.
type backendClient struct {
	baseURL string
	client  *http.Client
}

// do runs the request, treats any non-2xx status as a failure, and decodes
// the body into out when provided.
func (b *backendClient) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// structuredAttempt is the primary path: the endpoint that may recognize
// FAQs and may offer a callback schedule.
type structuredAttempt struct {
	backend *backendClient
}

func (a *structuredAttempt) name() string { return "structured" }

func (a *structuredAttempt) respond(ctx context.Context, query string) (*types.NormalizedResponse, error) {
	form := url.Values{"message": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.backend.baseURL+"/api/chat", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out types.NormalizedResponse
	if err := a.backend.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// completionAttempt is the degraded path: a plain completion with a fixed
// system instruction, coerced into the normalized shape.
type completionAttempt struct {
	client *openai.Client
	model  string
	system string
}

func (a *completionAttempt) name() string { return "completion" }

func (a *completionAttempt) respond(ctx context.Context, query string) (*types.NormalizedResponse, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.system},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices")
	}
	return &types.NormalizedResponse{
		IsFAQ:     false,
		Response:  resp.Choices[0].Message.Content,
		Schedule:  nil,
		Sentiment: neutralSentiment(),
	}, nil
}

func neutralSentiment() types.Sentiment {
	return types.Sentiment{Label: "Neutral", Score: 0.5}
}
