package prompts

func registerIngestPrompts(r *PromptRegistry) {
	r.Register(&Prompt{
		ID:      IDExtraction,
		Version: PromptV1,
		Content: `You extract structured data from a candidate's resume.

Return only what the resume states. Leave a field empty rather than guessing. Dates keep the resume's own wording (for example "2019-03" or "Present").

Section to extract: {{section}}

Resume text:
{{resume}}`,
		Description: "Structured resume extraction, one section per call",
		Tags:        []string{"ingest"},
	})

	r.Register(&Prompt{
		ID:      IDOverview,
		Version: PromptV1,
		Content: `Summarize the document below in a few lines using exactly this layout:

Purpose: why the document exists
Key Topics: the main subjects it covers
Structure Overview: how it is organised
Audience: who it is written for, if that can be told

Document:
{{context}}`,
		Description: "Short document overview",
		Tags:        []string{"ingest", "summary"},
	})
}
