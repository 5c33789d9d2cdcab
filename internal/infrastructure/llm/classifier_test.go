package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"TenderScanner/internal/config"
	"TenderScanner/internal/domain"
)

func TestClassifySendsTenderAndDecodesAnswer(t *testing.T) {
	t.Parallel()

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization header = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n" +
			`{\"category\":\"alimentacao\",\"relevance_score\":140,\"confidence\":0.8,\"municipality\":\"Campinas\",\"keywords\":[\"merenda\"]}` +
			"\\n```" + `"}}]}`))
	}))
	defer server.Close()

	c := NewClassifier(config.ClassifierConfig{Endpoint: server.URL, Model: "gpt-test", APIKey: "secret"})
	cls, err := c.Classify(context.Background(), domain.Tender{
		ID:           7,
		Object:       "Aquisição de merenda escolar",
		TenderNumber: "12/2024",
		Modality:     domain.NotInformed,
	})
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}

	if cls.Category != "alimentacao" || cls.Municipality != "Campinas" {
		t.Fatalf("unexpected classification %+v", cls)
	}
	if cls.RelevanceScore != 100 {
		t.Fatalf("relevance should be clamped, got %v", cls.RelevanceScore)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	user := got.Messages[1].Content
	if !strings.Contains(user, "Objeto: Aquisição de merenda escolar") || !strings.Contains(user, "Número: 12/2024") {
		t.Fatalf("user message misses tender fields: %q", user)
	}
	if strings.Contains(user, "Modalidade") {
		t.Fatalf("sentinel fields must be omitted: %q", user)
	}
}

func TestClassifyReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClassifier(config.ClassifierConfig{Endpoint: server.URL, Model: "m", APIKey: "k"})
	_, err := c.Classify(context.Background(), domain.Tender{ID: 1, Object: "x"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestClassifyRequiresConfiguration(t *testing.T) {
	t.Parallel()

	c := NewClassifier(config.ClassifierConfig{})
	if _, err := c.Classify(context.Background(), domain.Tender{}); err == nil {
		t.Fatal("expected misconfiguration error")
	}
}

func TestParseClassificationRejectsMissingCategory(t *testing.T) {
	t.Parallel()

	if _, err := parseClassification(`{"confidence":0.5}`); err == nil {
		t.Fatal("expected error for empty category")
	}
	if _, err := parseClassification(`not json`); err == nil {
		t.Fatal("expected decode error")
	}
}
