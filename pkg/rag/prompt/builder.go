package prompt

import (
	"fmt"
	"strings"

	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/vectorstore"
)

// Composer renders every prompt the deep search loop sends to the model.
// Prompts are XML-sectioned so the model can tell instructions from material.
type Composer struct {
	// MaxChunkChars truncates each chunk shown to the model. 0 keeps chunks whole.
	MaxChunkChars int
}

func NewComposer(maxChunkChars int) *Composer {
	return &Composer{MaxChunkChars: maxChunkChars}
}

// Decompose asks for up to max focused sub-queries covering the question.
func (c *Composer) Decompose(question string, max int) string {
	var p strings.Builder

	writeSection(&p, "task", fmt.Sprintf(
		"Break the question below into at most %d focused search queries that together cover everything needed to answer it.\n"+
			"If the question is simple and needs no decomposition, return a list holding only the original question.", max))
	writeSection(&p, "question", question)
	writeSection(&p, "example", "Question: \"Explain deep learning\"\n"+
		"Output: [\"What is deep learning?\", \"How does deep learning differ from classical machine learning?\", \"How did deep learning develop historically?\"]")
	writeOutputList(&p)

	return p.String()
}

// GapPlan asks for queries that close a known gap in the evidence.
func (c *Composer) GapPlan(question, gap string, issued []string, evidence []session.EvidenceChunk, max int) string {
	var p strings.Builder

	writeSection(&p, "task", fmt.Sprintf(
		"The evidence gathered so far does not fully answer the question. Propose at most %d NEW search queries that target the missing information.\n"+
			"Do not repeat any previous query.", max))
	writeSection(&p, "question", question)
	if gap != "" {
		writeSection(&p, "missing_information", gap)
	}
	writeSection(&p, "previous_queries", bulletList(issued))
	c.writeEvidence(&p, evidence)
	writeOutputList(&p)

	return p.String()
}

// Reflect asks whether the evidence is sufficient and what to search next.
func (c *Composer) Reflect(question string, issued []string, evidence []session.EvidenceChunk, max int) string {
	var p strings.Builder

	writeSection(&p, "task",
		"Judge whether the retrieved chunks contain enough information to write a complete, specific answer to the question.\n"+
			"If something is missing, describe the gap and suggest follow-up search queries that differ from the previous ones.\n"+
			"If the question asks for a report, prefer suggesting further queries over declaring the evidence sufficient.")
	writeSection(&p, "question", question)
	writeSection(&p, "previous_queries", bulletList(issued))
	c.writeEvidence(&p, evidence)

	p.WriteString("<output_format>\n")
	p.WriteString("Respond with ONLY a JSON object, no other text:\n")
	p.WriteString("{\"sufficient\": true|false, \"gap_description\": \"<what is missing, empty when sufficient>\", ")
	fmt.Fprintf(&p, "\"suggested_sub_queries\": [<at most %d strings, empty when sufficient>]}\n", max)
	p.WriteString("</output_format>\n")

	return p.String()
}

// Synthesize asks for the final answer with inline citations.
func (c *Composer) Synthesize(question string, issued []string, evidence []session.EvidenceChunk) string {
	var p strings.Builder

	writeSection(&p, "task",
		"You are a content analysis expert. Write a specific and detailed answer to the question using ONLY the retrieved chunks.")
	writeSection(&p, "question", question)
	writeSection(&p, "previous_queries", bulletList(issued))
	c.writeEvidence(&p, evidence)

	p.WriteString("<guidelines>\n")
	p.WriteString("1. Every factual statement must cite the chunk it comes from as [source: <source>], copying the source exactly as given\n")
	p.WriteString("2. Only cite sources that appear in the chunks above\n")
	p.WriteString("3. If the chunks disagree, say so and cite both sides\n")
	p.WriteString("4. If the chunks do not cover part of the question, say so honestly instead of guessing\n")
	p.WriteString("</guidelines>\n\n")
	p.WriteString("Now write the answer:")

	return p.String()
}

// Rerank asks whether one retrieved chunk helps with any of the queries.
func (c *Composer) Rerank(queries []string, chunk string) string {
	var p strings.Builder

	writeSection(&p, "task",
		"Decide whether the retrieved chunk is helpful in answering any of the query questions.")
	writeSection(&p, "query_questions", bulletList(queries))
	if c.MaxChunkChars > 0 && len(chunk) > c.MaxChunkChars {
		chunk = chunk[:c.MaxChunkChars] + "..."
	}
	writeSection(&p, "retrieved_chunk", chunk)

	p.WriteString("<output_format>\n")
	p.WriteString("Is the chunk helpful in answering any of the questions? Respond with ONLY \"YES\" or \"NO\".\n")
	p.WriteString("</output_format>\n")

	return p.String()
}

// Route asks which collections could hold the answer.
func (c *Composer) Route(question string, collections []vectorstore.CollectionInfo) string {
	var p strings.Builder

	writeSection(&p, "task",
		"Select the collections that may contain information related to the question. "+
			"If no collection is related, return an empty list.")
	writeSection(&p, "question", question)

	p.WriteString("<collections>\n")
	for _, col := range collections {
		fmt.Fprintf(&p, "- name: %s\n  description: %s\n", col.Name, col.Description)
	}
	p.WriteString("</collections>\n\n")
	writeOutputList(&p)

	return p.String()
}

func (c *Composer) writeEvidence(p *strings.Builder, evidence []session.EvidenceChunk) {
	p.WriteString("<retrieved_chunks>\n")
	if len(evidence) == 0 {
		p.WriteString("(none)\n")
	}
	for i, ch := range evidence {
		text := ch.ContextText()
		if c.MaxChunkChars > 0 && len(text) > c.MaxChunkChars {
			text = text[:c.MaxChunkChars] + "..."
		}
		fmt.Fprintf(p, "<chunk_%d source=%q>\n%s\n</chunk_%d>\n", i+1, ch.Citation(), text, i+1)
	}
	p.WriteString("</retrieved_chunks>\n\n")
}

func writeSection(p *strings.Builder, tag, body string) {
	fmt.Fprintf(p, "<%s>\n%s\n</%s>\n\n", tag, body, tag)
}

func writeOutputList(p *strings.Builder) {
	p.WriteString("<output_format>\n")
	p.WriteString("Respond with ONLY a JSON array of strings, no other text.\n")
	p.WriteString("</output_format>\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}
