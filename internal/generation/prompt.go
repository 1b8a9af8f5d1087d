package generation

import (
	"fmt"

	"github.com/policyqa/backend/internal/assembler"
	"github.com/policyqa/backend/internal/domain"
)

const systemPrompt = `You are a policy analyst answering questions about a structured policy manual.

Your answers must:
1. Be based ONLY on the provided context
2. Cite manual sections using [section_id] notation
3. Name the responsible organization or role when the question asks who
4. Say plainly when the context does not contain the answer

Reply with a JSON object: {"answer": "...", "citations": ["section_id", ...]}`

var intentGuidance = map[domain.IntentLabel]string{
	domain.IntentDefinition:         "Give a precise definition first, then any expansion of the term.",
	domain.IntentProcedural:         "List the steps in order and name who performs each one.",
	domain.IntentOrganizationalRole: "Identify the responsible organization or official and the reporting chain.",
	domain.IntentFactualLookup:      "Answer the specific fact directly.",
}

func buildPrompt(question string, bundle domain.ContextBundle, intent domain.Intent) string {
	rendered := assembler.Render(bundle)
	if rendered == "" {
		rendered = "(no context retrieved)\n"
	}

	guidance, ok := intentGuidance[intent.Label]
	if !ok {
		guidance = intentGuidance[domain.IntentFactualLookup]
	}

	return fmt.Sprintf(`Question: %s

Question type: %s
%s

Context:
%s
Answer using only the context above.`, question, intent.Label, guidance, rendered)
}
