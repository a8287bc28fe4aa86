package services

import (
	"fmt"
	"strings"

	"flash-agent/internal/agent"
)

const analyzerPrompt = `Você é um agente que analisa textos extraídos de PDFs e extrai as ideias-chave.
Liste os pontos principais do material de forma objetiva, um por linha, preservando
termos técnicos, definições, datas e nomes importantes. Não crie flashcards.`

const cardGeneratorPrompt = `Você é um agente que cria flashcards no estilo Anki com base em pontos-chave.
Para cada ponto-chave relevante da conversa, crie um flashcard chamando a ferramenta
add_flash_card com um título curto, uma pergunta clara e uma resposta concisa.
Cada flashcard deve testar um único conceito. Se a ferramenta retornar um erro,
tente novamente uma vez e depois informe o problema.
Ao terminar, responda com um resumo em português dos flashcards criados.`

const checkerPrompt = `Você é um agente que corrige respostas de flashcards.
Use a ferramenta get_flash_card para buscar o flashcard pelo id informado e compare
a resposta do usuário com a resposta oficial, avaliando o significado e não a redação exata.
Responda APENAS com um objeto JSON no formato:
{"status": "correto" | "parcial" | "incorreto", "feedback": "<explicação curta em português>", "official_answer": "<resposta oficial exatamente como armazenada>"}
Se não for possível buscar o flashcard, responda com status "erro" e explique o motivo no feedback.`

// fallbackFeedback is returned to the user when the checker output cannot be
// parsed.
const fallbackFeedback = "Não foi possível avaliar sua resposta agora. Tente novamente em instantes."

const unavailableAnswer = "Não disponível"

// BuildUploadMessage embeds extracted document text into the instruction for
// the creation workflow.
func BuildUploadMessage(filename, text string) agent.Message {
	var b strings.Builder
	b.WriteString("Analise o conteúdo do PDF abaixo, identifique os pontos-chave e crie flashcards para estudá-lo.\n")
	if filename != "" {
		fmt.Fprintf(&b, "Arquivo: %s\n", filename)
	}
	b.WriteString("\nConteúdo:\n")
	b.WriteString(text)
	return agent.HumanMessage(b.String())
}

// BuildCheckMessage asks the checker to grade an answer for a flashcard.
func BuildCheckMessage(flashcardID int64, userAnswer string) agent.Message {
	return agent.HumanMessage(fmt.Sprintf(
		"Verifique a resposta do usuário para o flashcard de id %d.\nResposta do usuário: %s",
		flashcardID, userAnswer,
	))
}
