package respond

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsReasoningBlocks(t *testing.T) {
	in := "<think>preciso de pensar\nnisto</think>A resposta é 4."
	assert.Equal(t, "A resposta é 4.", Sanitize(in))

	in = "<reasoning>hm</reasoning>Olá!"
	assert.Equal(t, "Olá!", Sanitize(in))
}

func TestSanitizeDropsUnclosedReasoning(t *testing.T) {
	// mid-stream buffer: the tag opened but the close has not arrived yet
	in := "A resposta é 4.<think>ainda a pensar"
	assert.Equal(t, "A resposta é 4.", Sanitize(in))
}

func TestSanitizeRemovesResourceLines(t *testing.T) {
	in := "Podes rever frações.\nLink: https://youtube.com/x\nVídeo: algum\nContinua a praticar!"
	got := Sanitize(in)
	assert.NotContains(t, got, "Link:")
	assert.NotContains(t, got, "Vídeo:")
	assert.Contains(t, got, "Podes rever frações.")
	assert.Contains(t, got, "Continua a praticar!")
}

func TestSanitizeMarkdownLinksKeepText(t *testing.T) {
	in := "Vê [este resumo](https://example.com/a) antes do teste."
	assert.Equal(t, "Vê este resumo antes do teste.", Sanitize(in))
}

func TestSanitizeRemovesBareURLs(t *testing.T) {
	in := "Procura em https://example.com/materia o capítulo 3."
	assert.Equal(t, "Procura em  o capítulo 3.", Sanitize(in))
}

func TestSanitizeCollapsesNewlines(t *testing.T) {
	in := "a\n\n\n\nb"
	assert.Equal(t, "a\n\nb", Sanitize(in))
}

func TestSanitizePreservesEdges(t *testing.T) {
	// stream chunks keep their boundaries
	assert.Equal(t, " meio ", Sanitize(" meio "))
	assert.Equal(t, "fim", SanitizeFinal("  fim \n"))
}

func TestSanitizeCleanTextRoundTrip(t *testing.T) {
	in := "Uma resposta normal, com **negrito** e emojis 😊.\n\nSegundo parágrafo."
	assert.Equal(t, in, Sanitize(in))
}
