package models

const (
	DefaultChunkSize    = 1000 // runes
	DefaultChunkOverlap = 200  // runes
	DefaultTopK         = 4
	DefaultTemperature  = 0.3

	ContextSeparator = "\n\n"

	// DontKnowInstruction must appear verbatim in every answer prompt.
	DontKnowInstruction = `If you don't know the answer, say "I don't know" and do not invent anything.`

	DefaultPersona = "You are an expert assistant for DGCA Civil Aviation Requirements (CAR) regulations."
)

// AnswerPromptTemplate is rendered with Go template syntax by langchaingo prompts.
var AnswerPromptTemplate = `{{.persona}}
Answer the operator's question using only the information provided in the context.
Be clear, detailed, and professional in your response.
` + DontKnowInstruction + `

Question: {{.question}}
Context: {{.context}}

Answer:
`
