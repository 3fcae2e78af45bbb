package analysis

import (
	"fmt"

	"github.com/kalambet/v2v/internal/ollama"
)

const systemPrompt = `You are an expert analyst of business and project ideas. You receive the transcript of a voice memo and produce a structured JSON description of the idea it contains.

Rules:
1. Answer with ONLY a single valid JSON object. No text before or after it, no Markdown.
2. "title" is short and professional: at most 5 words, no symbols or emoji. It becomes a folder name.
3. "summary" explains the main idea in 5-8 clear lines.
4. "explanation" is a structured, detailed description: how it works, who benefits, why it matters.
5. "category" is exactly one of: App, Business, Automation, Content, Other.
6. "tags" holds 2-5 short descriptive strings.
7. "maturity" is exactly one of: concept, developed, advanced.
8. "viability" is an integer from 1 to 10.
9. "next_steps" holds 3-5 concrete, actionable steps.
10. "risks" holds 2-4 potential risks.

Example:
{"title": "Local Delivery App", "summary": "A mobile app connecting small local shops with nearby customers...", "explanation": "The project consists of...", "category": "App", "tags": ["delivery", "local", "mobile"], "maturity": "concept", "viability": 8, "next_steps": ["Research competitors", "Validate with shop owners", "Build an MVP"], "risks": ["Established competition", "Slow adoption"]}`

var languageInstructions = map[string]string{
	"en": "Respond in English.",
	"es": "Responde en español.",
	"fr": "Répondez en français.",
	"de": "Antworten Sie auf Deutsch.",
	"pt": "Responda em português.",
}

// BuildPrompt constructs the chat messages for analyzing transcript.
// Unknown languages fall back to English.
func BuildPrompt(transcript, language string) []ollama.Message {
	instruction, ok := languageInstructions[language]
	if !ok {
		instruction = languageInstructions["en"]
	}

	user := fmt.Sprintf("%s\n\nVOICE MEMO TRANSCRIPT:\n\"\"\"\n%s\n\"\"\"\n\nAnalyze this idea and return the structured JSON described in the instructions. Only the JSON.", instruction, transcript)

	return []ollama.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

// requiredFields must all be present in the model output.
var requiredFields = []string{"title", "summary", "explanation", "category", "tags", "maturity", "viability", "next_steps", "risks"}

// analysisSchema returns the Ollama JSON schema for structured analysis output.
func analysisSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"title":       {Type: "string", Description: "Short professional name, at most 5 words"},
			"summary":     {Type: "string", Description: "5-8 line summary of the idea"},
			"explanation": {Type: "string", Description: "Detailed structured explanation"},
			"category":    {Type: "string", Description: "One of: App, Business, Automation, Content, Other"},
			"tags":        {Type: "array", Description: "2-5 short descriptive tags"},
			"maturity":    {Type: "string", Description: "One of: concept, developed, advanced"},
			"viability":   {Type: "integer", Description: "Viability score from 1 to 10"},
			"next_steps":  {Type: "array", Description: "3-5 concrete next steps"},
			"risks":       {Type: "array", Description: "2-4 potential risks"},
		},
		Required: requiredFields,
	}
}
