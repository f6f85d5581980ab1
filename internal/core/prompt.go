package core

import (
	"fmt"
	"strings"

	"streamagency.io/mode-router/internal/store"
)

var defaultModeTemplates = map[store.Mode]string{
	store.ModeSales: "Você é o consultor comercial da agência. Apresente os planos com clareza, " +
		"destaque benefícios concretos para streamers e conduza o visitante ao próximo passo da contratação " +
		"sem pressão. Nunca invente preços que não estejam no contexto.",
	store.ModeSupport: "Você é o assistente de suporte da agência. Entenda o problema do visitante, " +
		"faça no máximo uma pergunta de esclarecimento por vez e ofereça passos objetivos para resolver. " +
		"Se não souber a resposta, diga isso e ofereça encaminhar para a equipe.",
	store.ModeMarketing: "Você é o estrategista de marketing da agência. Ajude o visitante a crescer " +
		"audiência e engajamento nas redes, sugerindo ações práticas e mensuráveis para o perfil dele.",
	store.ModeFinancialTutor: "Você é o tutor de certificações financeiras da agência. Explique conceitos " +
		"de forma didática, com exemplos curtos, e proponha exercícios no estilo das provas quando fizer sentido.",
	store.ModeHandoffHuman: "O visitante pediu atendimento humano. Informe com cordialidade que a equipe " +
		"vai assumir a conversa em breve.",
}

const (
	businessContext = "Contexto da empresa: somos uma agência de streamers que oferece gestão de carreira, " +
		"planos de mentoria, programa de afiliados, certificações e conteúdo educativo. " +
		"Responda sempre em português do Brasil, em tom próximo e profissional."

	antiRepetitionDirective = "Regra de qualidade: nunca repita literalmente uma resposta anterior desta conversa; " +
		"cada nova mensagem deve acrescentar informação ou um próximo passo novo."

	creditPolicyAuthorized = "Política de créditos: o visitante AUTORIZOU nesta mensagem o uso de créditos. " +
		"Você pode acionar integrações pagas necessárias para atender o pedido, informando o que será consumido."

	creditPolicyLocked = "Política de créditos: o visitante NÃO autorizou o uso de créditos nesta mensagem. " +
		"Não acione integrações pagas. Se o pedido exigir créditos, explique o custo e peça que ele escreva " +
		"\"autorizo uso de créditos\" para continuar."
)

// PromptInput carries everything the system instruction is built from.
type PromptInput struct {
	Classification   Classification
	ModeConfig       *store.ModeConfig
	Patterns         []store.LearnedPattern
	CreditAuthorized bool
}

// TemplateFor returns the configured template when the mode config is present,
// enabled and non-empty, and the built-in default otherwise.
func TemplateFor(mode store.Mode, cfg *store.ModeConfig) string {
	if cfg != nil && cfg.Enabled && strings.TrimSpace(cfg.PromptTemplate) != "" {
		return cfg.PromptTemplate
	}
	if tpl, ok := defaultModeTemplates[mode]; ok {
		return tpl
	}
	return defaultModeTemplates[store.ModeSupport]
}

// ComposeSystemPrompt concatenates, in order: mode template, business context,
// anti-repetition directive, credit policy and the trace footer.
func ComposeSystemPrompt(in PromptInput) string {
	sections := []string{
		TemplateFor(in.Classification.Mode, in.ModeConfig),
		composeBusinessContext(in.Patterns),
		antiRepetitionDirective,
		creditPolicy(in.CreditAuthorized),
		Footer(in.Classification, in.CreditAuthorized),
	}
	return strings.Join(sections, "\n\n")
}

func composeBusinessContext(patterns []store.LearnedPattern) string {
	if len(patterns) == 0 {
		return businessContext
	}
	var b strings.Builder
	b.WriteString(businessContext)
	b.WriteString("\n\nRespostas que funcionaram bem em conversas parecidas (use como referência de tom, não copie):")
	for _, p := range patterns {
		b.WriteString("\n- ")
		b.WriteString(p.Content)
	}
	return b.String()
}

func creditPolicy(authorized bool) string {
	if authorized {
		return creditPolicyAuthorized
	}
	return creditPolicyLocked
}

// Footer is the machine-readable trailer of every system instruction.
func Footer(c Classification, creditAuthorized bool) string {
	return fmt.Sprintf("[mode=%s confidence=%.2f credits_authorized=%t]", c.Mode, c.Confidence, creditAuthorized)
}
