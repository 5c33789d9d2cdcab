package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
	"TenderScanner/internal/textutil"
)

const maxPromptObjectRunes = 1500

// Classifier implements ports.Classifier backed by OpenAI-compatible chat APIs.
type Classifier struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Classifier = (*Classifier)(nil)

// NewClassifier builds a client from configuration.
func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Classifier{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the notice text and context fields as a user message and
// decodes the JSON verdict from the first choice.
func (c *Classifier) Classify(ctx context.Context, tender domain.Tender) (domain.Classification, error) {
	if c == nil {
		return domain.Classification{}, fmt.Errorf("classifier client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Classification{}, fmt.Errorf("classifier client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"temperature": 0,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": userMessage(tender)},
		},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal classifier payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Classification{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify tender %d: %w", tender.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Classification{}, fmt.Errorf("classifier error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return domain.Classification{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return domain.Classification{}, fmt.Errorf("classifier returned no choices")
	}

	return parseClassification(chat.Choices[0].Message.Content)
}

// parseClassification reads the model's JSON answer, tolerating a fenced
// code block around it.
func parseClassification(content string) (domain.Classification, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var cls domain.Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return domain.Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	if strings.TrimSpace(cls.Category) == "" {
		return domain.Classification{}, fmt.Errorf("classification without category")
	}

	cls.RelevanceScore = clamp(cls.RelevanceScore, 0, 100)
	cls.Confidence = clamp(cls.Confidence, 0, 1)
	return cls, nil
}

func userMessage(t domain.Tender) string {
	var b strings.Builder
	b.WriteString("Classifique o edital abaixo. Responda com JSON contendo category, secondary_categories, relevance_score (0-100), school, municipality, complexity, supplier_type, confidence (0-1), keywords e summary.\n\n")
	fmt.Fprintf(&b, "Objeto: %s\n", textutil.Truncate(t.Object, maxPromptObjectRunes))
	field(&b, "Número", t.TenderNumber)
	field(&b, "Modalidade", t.Modality)
	field(&b, "Situação", t.Status)
	field(&b, "Fonte", t.SourceCode)
	if t.EstimatedValue != nil {
		fmt.Fprintf(&b, "Valor estimado: %.2f\n", *t.EstimatedValue)
	}
	if t.OpeningDate != nil {
		fmt.Fprintf(&b, "Abertura: %s\n", t.OpeningDate.Format("02/01/2006 15:04"))
	}
	return b.String()
}

func field(b *strings.Builder, label, value string) {
	if domain.IsNotInformed(value) {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "Você classifica editais de licitação pública. Responda somente com JSON."
	}
	return prompt
}
