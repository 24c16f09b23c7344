// Package genai provides the OpenAI-backed reply generator for the SDR agent.
//
// The generator only phrases replies: the qualification machine has already
// decided the target stage and the question to ask before this package is
// called. Output is treated as opaque text; nothing here influences state
// transitions.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/qualify"
)

// DefaultModel is the chat model used when none is configured.
var DefaultModel = openai.ChatModelGPT4oMini

// systemPersona frames every generation. Stage-specific guidance is appended
// per request.
const systemPersona = "Você é Helen, consultora comercial da SolarPrime. " +
	"Responda em português brasileiro, de forma curta, natural e cordial, como em uma conversa de WhatsApp. " +
	"Nunca prometa valores de economia exatos e nunca proponha agendamento por conta própria: " +
	"siga estritamente a instrução de etapa fornecida."

// stageInstructions tell the model what the already-decided transition needs
// phrased. The machine, not the model, picked the stage.
var stageInstructions = map[models.Stage]string{
	models.StageNew:                "Cumprimente o lead e pergunte como pode ajudar.",
	models.StageIdentifyingNeed:    "Entenda o que o lead procura e confirme o interesse em economia na conta de luz.",
	models.StageQualifying:         "Pergunte o valor médio da conta de energia mensal.",
	models.StageDiscovery:          "Pergunte sobre o fato pendente indicado, uma pergunta por vez.",
	models.StagePresentingSolution: "Apresente o modelo de assinatura de energia e seus benefícios.",
	models.StageHandlingObjection:  "Acolha a objeção do lead e esclareça a dúvida sem pressionar.",
	models.StageScheduling:         "Proponha uma reunião rápida com o consultor e pergunte a melhor data.",
	models.StageScheduled:          "Confirme a reunião agendada e agradeça.",
	models.StageDisqualified:       "Agradeça o contato e encerre cordialmente, deixando a porta aberta.",
	models.StageAbandoned:          "Encerre a conversa cordialmente, sem novas perguntas.",
}

// Opts holds configuration options for the generator client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the generator client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion API. It implements
// qualify.Generator.
type Client struct {
	client openai.Client
	model  openai.ChatModel
}

// NewClient initializes a generator client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	slog.Debug("Creating GenAI client", "model", cfg.Model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// Generate produces the reply text for an already-decided transition. The
// caller bounds ctx with the hard generation timeout.
func (c *Client) Generate(ctx context.Context, req qualify.GenerationRequest) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: buildMessages(req),
	})
	if err != nil {
		slog.Error("GenAI completion failed", "key", req.Profile.ConversationKey, "stage", req.TargetStage, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("GenAI reply generated", "key", req.Profile.ConversationKey, "stage", req.TargetStage, "length", len(reply))
	return reply, nil
}

// buildMessages lays out the chat: system prompt, then the transcript the
// machine already trimmed, then the burst being answered.
func buildMessages(req qualify.GenerationRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(buildSystemPrompt(req)))
	for _, m := range req.History {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(m.Content))
	}
	return append(messages, openai.UserMessage(buildUserPrompt(req)))
}

// buildSystemPrompt combines the persona, the stage instruction, and a
// snapshot of what is already known so the model never re-asks answered
// questions.
func buildSystemPrompt(req qualify.GenerationRequest) string {
	var b strings.Builder
	b.WriteString(systemPersona)
	b.WriteString("\n\nEtapa atual: ")
	b.WriteString(string(req.TargetStage))
	if instruction, ok := stageInstructions[req.TargetStage]; ok {
		b.WriteString("\nInstrução: ")
		b.WriteString(instruction)
	}
	if req.MissingFact != "" {
		b.WriteString("\nFato pendente a descobrir: ")
		b.WriteString(req.MissingFact)
	}
	b.WriteString("\n\nPerfil do lead:\n")
	b.WriteString(profileSummary(req.Profile))
	return b.String()
}

func buildUserPrompt(req qualify.GenerationRequest) string {
	var b strings.Builder
	b.WriteString(req.FlushedText)
	for _, att := range req.Attachments {
		b.WriteString(fmt.Sprintf("\n[anexo: %s", att.Kind))
		if att.Caption != "" {
			b.WriteString(" — " + att.Caption)
		}
		b.WriteString("]")
	}
	return b.String()
}

func profileSummary(p *models.QualificationProfile) string {
	if p == nil {
		return "- sem dados"
	}
	var lines []string
	if p.BillValue > 0 {
		lines = append(lines, fmt.Sprintf("- conta mensal: R$ %.2f", p.BillValue))
	}
	lines = append(lines,
		"- decisor presente: "+triState(p.HasDecisionMaker),
		"- usina existente: "+triState(p.HasExistingPlant),
		"- contrato vigente: "+triState(p.HasActiveContract),
		"- interesse confirmado: "+triState(p.InterestConfirmed),
	)
	return strings.Join(lines, "\n")
}

func triState(b *bool) string {
	switch {
	case b == nil:
		return "não informado"
	case *b:
		return "sim"
	default:
		return "não"
	}
}
