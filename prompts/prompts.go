// Package prompts holds the prompt templates used by retrieval, work
// order assignment and the agentic loop. Keeping them in one place makes
// the model-facing wording reviewable without digging through workflow
// code.
package prompts

// GraphQuery asks the model to turn a natural language question into a
// graph query against the snapshotted schema. Exact matches are
// preferred; a fuzzy CONTAINS match is the fallback.
const GraphQuery = `You translate maintenance questions into Cypher for a FalkorDB property graph.

Graph schema:
Node labels: %s
Relationship types: %s
Known machinery names: %s

Rules:
- Prefer exact property matches on names from the schema above.
- If no exact name fits, fall back to a case-insensitive CONTAINS match.
- Return only the Cypher query, no explanation, no code fences.
%s
Question: %s`

// GraphQueryScope is injected into GraphQuery when a machine is selected.
const GraphQueryScope = "- Scope every match to the machinery named %q.\n"

// Synthesis combines the structured and unstructured retrieval legs into
// an answer. Structured graph facts take priority over chunk text when
// the two disagree.
const Synthesis = `You are a maintenance assistant for factory technicians.
Answer the question using the context below.

Structured facts from the knowledge graph take priority over document
excerpts when they conflict. Cite machinery and procedures by name. If
the context does not contain the answer, say so.

Question: %s

Structured facts:
%s

Document excerpts:
%s`

// Ranking asks for a justification of technician ordering. The returned
// prose never changes who is assigned; the first qualified candidate is.
const Ranking = `You are assisting with work order assignment.

Work order context:
%s

Qualified technicians, in priority order:
%s

Explain in two or three sentences why the first technician is the best
assignment for this work order, considering certification level and role.`

// RiskNarrative supplements deterministic risk flags with a short
// operational note.
const RiskNarrative = `Work order context:
%s

Identified risk flags: %s

Write one short paragraph advising the maintenance planner how to manage
these risks. Be concrete and brief.`

// PurchaseOrder drafts a purchase order for an out-of-stock part.
const PurchaseOrder = `A required part is out of stock.

Part: %s
Work order context:
%s

Draft a one-paragraph purchase order note stating the part, the affected
work order, and the urgency.`

// CandidatePrompt assembles retrieved context into a draft answer prompt
// for the agentic loop.
const CandidatePrompt = `You are preparing a work order assignment briefing.

Work order: %s

Retrieved context:
%s

Write a briefing that names the recommended technician, the machinery
involved, and any compliance constraints found in the context.`

// Critique judges whether retrieved context is sufficient. The model
// must answer with SUFFICIENT or INSUFFICIENT plus feedback.
const Critique = `You are reviewing retrieved context for a work order briefing.

Work order: %s

Retrieved context:
%s

Is this context sufficient to produce a reliable briefing? Reply with a
single line starting with SUFFICIENT or INSUFFICIENT, followed by a
colon and one sentence of feedback on what is missing.`

// SearchParams turns a work order and prior critique feedback into
// search parameters for the next retrieval attempt.
const SearchParams = `Produce search parameters for retrieving work order context.

Work order: %s
Previous attempt feedback: %s

Respond with JSON only:
{"query": "...", "sources": ["manual", "incident"], "machine": "..."}`

// ImageCaption describes an attached image for ingestion alongside the
// document text.
const ImageCaption = `Describe this maintenance-relevant image in one sentence,
naming any visible machinery, components, gauges or damage: %s`
