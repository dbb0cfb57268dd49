package clients

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
	"github.com/openpodcast/episode-ingest-worker/log"
)

// EnrichmentInput is the (title, description, hostName, channelName) tuple
// of §4.9.
type EnrichmentInput struct {
	Title       string
	Description string
	HostName    string
	ChannelName string
}

// GuestBio is a single enriched guest entry (§4.9 step 2).
type GuestBio struct {
	Name        string
	Description string
	Confidence  string // "high" | "medium" | "low"
	Status      string // "success" | "failure"
}

// EnrichmentResult carries the three derived fields plus provenance, all
// written to additionalData by the orchestrator (§4.9 step 4).
type EnrichmentResult struct {
	Guests            []string
	GuestDescriptions []string
	Topics            []string
	GuestProvenance   map[string]interface{}
	TopicProvenance   map[string]interface{}
}

// llmClient abstracts the two logical models of §4.9 (LLM-A for guest
// extraction, LLM-B for biography/topic generation) behind one interface
// so both can be satisfied by the same Anthropic client with different
// prompts, and so tests can stub it without live API calls.
type llmClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// anthropicLLM wraps github.com/anthropics/anthropic-sdk-go.
type anthropicLLM struct {
	client *anthropic.Client
	model  string
}

func newAnthropicLLM(apiKey, model string) *anthropicLLM {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicLLM{client: &client, model: model}
}

func (a *anthropicLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return concurrency.WithStep("enrichment_llm", func() (string, error) {
		return concurrency.WithRetry(func() (string, error) {
			msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.F(a.model),
				MaxTokens: anthropic.F(int64(512)),
				System:    anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(systemPrompt)}),
				Messages: anthropic.F([]anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
				}),
			})
			if err != nil {
				return "", fmt.Errorf("anthropic completion: %w", err)
			}
			var sb strings.Builder
			for _, block := range msg.Content {
				if block.Type == anthropic.ContentBlockTypeText {
					sb.WriteString(block.Text)
				}
			}
			return sb.String(), nil
		})
	})
}

// Enrichment runs the §4.9 orchestrator. All failures are non-fatal: a
// partial or zero-guest result is a valid outcome.
type Enrichment struct {
	LLM llmClient
}

func NewEnrichment(apiKey, model string) *Enrichment {
	if apiKey == "" {
		return &Enrichment{LLM: nil}
	}
	return &Enrichment{LLM: newAnthropicLLM(apiKey, model)}
}

var compilationSignals = regexp.MustCompile(`(?i)\b(compilation|best of|solo episode|ask me anything|q&a)\b`)

func (e *Enrichment) Enrich(ctx context.Context, requestID string, in EnrichmentInput) (EnrichmentResult, error) {
	if compilationSignals.MatchString(in.Title) || compilationSignals.MatchString(in.Description) {
		return EnrichmentResult{}, nil
	}

	names, guestMethod := e.extractGuestNames(ctx, requestID, in)
	if len(names) == 0 {
		return EnrichmentResult{
			GuestProvenance: provenance(guestMethod, 0, ""),
		}, nil
	}

	bios := e.biographies(ctx, requestID, names, in)
	var guests, descriptions []string
	successCount := 0
	for _, b := range bios {
		guests = append(guests, b.Name)
		descriptions = append(descriptions, b.Description)
		if b.Status == "success" {
			successCount++
		}
	}

	topics, topicMethod := e.topics(ctx, requestID, in, guests)

	return EnrichmentResult{
		Guests:            guests,
		GuestDescriptions: descriptions,
		Topics:            topics,
		GuestProvenance:   provenance(guestMethod, len(guests), confidenceDistribution(bios)),
		TopicProvenance:   provenance(topicMethod, len(topics), ""),
	}, nil
}

func (e *Enrichment) extractGuestNames(ctx context.Context, requestID string, in EnrichmentInput) ([]string, string) {
	if e.LLM == nil {
		return patternExtractGuestNames(in), "pattern"
	}
	prompt := fmt.Sprintf(
		"List the guest names appearing in this podcast episode, one per line, excluding the host %q. "+
			"Title: %q. Description: %q. If there are no guests, respond with NONE.",
		in.HostName, in.Title, in.Description)
	out, err := e.LLM.Complete(ctx, "You extract guest names from podcast metadata.", prompt)
	if err != nil {
		log.Log(requestID, "llm guest extraction failed, falling back to pattern extractor", "err", err)
		return patternExtractGuestNames(in), "pattern"
	}
	names := parseLLMList(out)
	return names, "llm"
}

func patternExtractGuestNames(in EnrichmentInput) []string {
	// "with John Smith", "feat. Jane Doe", "ft Jane Doe"
	re := regexp.MustCompile(`(?i)\b(?:with|feat\.?|ft\.?)\s+([A-Z][a-zA-Z'-]+(?:\s+[A-Z][a-zA-Z'-]+){0,2})`)
	var names []string
	for _, m := range re.FindAllStringSubmatch(in.Title+" "+in.Description, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" && name != in.HostName {
			names = append(names, name)
		}
	}
	return dedupe(names)
}

func (e *Enrichment) biographies(ctx context.Context, requestID string, names []string, in EnrichmentInput) []GuestBio {
	bios := make([]GuestBio, 0, len(names))
	for _, name := range names {
		bios = append(bios, e.biography(ctx, requestID, name, in))
	}
	return bios
}

func (e *Enrichment) biography(ctx context.Context, requestID, name string, in EnrichmentInput) GuestBio {
	if e.LLM == nil {
		return GuestBio{Name: name, Description: "", Confidence: "low", Status: "failure"}
	}
	prompt := fmt.Sprintf("In one sentence, describe who %q is, in the context of appearing on the podcast %q (channel %q).", name, in.Title, in.ChannelName)
	out, err := e.LLM.Complete(ctx, "You write short, factual one-sentence biographies.", prompt)
	if err != nil {
		log.Log(requestID, "llm biography generation failed for guest", "guest", name, "err", err)
		return GuestBio{Name: name, Confidence: "low", Status: "failure"}
	}
	return GuestBio{Name: name, Description: strings.TrimSpace(out), Confidence: "medium", Status: "success"}
}

func (e *Enrichment) topics(ctx context.Context, requestID string, in EnrichmentInput, guests []string) ([]string, string) {
	if e.LLM == nil {
		return keywordTopics(in), "keyword"
	}
	prompt := fmt.Sprintf(
		"Generate 3-6 short topical tags (single words or short phrases) for a podcast episode. "+
			"Title: %q. Description: %q. Channel: %q. Host: %q. Guests: %s. Respond as a comma-separated list.",
		in.Title, in.Description, in.ChannelName, in.HostName, strings.Join(guests, ", "))
	out, err := e.LLM.Complete(ctx, "You generate concise topical tags for podcast episodes.", prompt)
	if err != nil {
		log.Log(requestID, "llm topic generation failed, falling back to keyword extraction", "err", err)
		return keywordTopics(in), "keyword"
	}
	return parseLLMCSV(out), "llm"
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "of": true, "to": true,
	"in": true, "on": true, "with": true, "for": true, "is": true, "this": true,
}

func keywordTopics(in EnrichmentInput) []string {
	words := strings.Fields(strings.ToLower(in.Title + " " + in.Description))
	counts := map[string]int{}
	var order []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?\"'()")
		if len(w) < 4 || stopWords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	var topics []string
	for _, w := range order {
		if counts[w] > 1 {
			topics = append(topics, w)
		}
		if len(topics) >= 5 {
			break
		}
	}
	return topics
}

func parseLLMList(s string) []string {
	if strings.TrimSpace(strings.ToUpper(s)) == "NONE" {
		return nil
	}
	var names []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*•0123456789. "))
		if line != "" {
			names = append(names, line)
		}
	}
	return dedupe(names)
}

func parseLLMCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func confidenceDistribution(bios []GuestBio) string {
	counts := map[string]int{"high": 0, "medium": 0, "low": 0}
	for _, b := range bios {
		counts[b.Confidence]++
	}
	return fmt.Sprintf("high=%d,medium=%d,low=%d", counts["high"], counts["medium"], counts["low"])
}

func provenance(method string, count int, confidenceDist string) map[string]interface{} {
	p := map[string]interface{}{
		"method":    method,
		"count":     count,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if confidenceDist != "" {
		p["confidenceDistribution"] = confidenceDist
	}
	return p
}
