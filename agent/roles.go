// Package agent invokes the LLM provider in a fixed set of roles.
//
// Each workflow stage talks to the model through one role profile: a
// system prompt, a token ceiling and a timeout tuned for that stage.
// The orchestrator composes the user prompt; this package owns the
// persona and the call mechanics.
package agent

import "time"

// Role identifies the persona used for a completion.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleResearcher  Role = "researcher"
	RoleWriter      Role = "writer"
	RoleReviewer    Role = "reviewer"
	RoleReviser     Role = "reviser"
	RoleFactChecker Role = "fact_checker"
	RoleFormatter   Role = "formatter"
	RoleSummarizer  Role = "summarizer"
)

// Profile bundles the per-role invocation parameters.
type Profile struct {
	Role         Role
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

var profiles = map[Role]Profile{
	RolePlanner: {
		Role: RolePlanner,
		SystemPrompt: "You are a research planning specialist. Given a research topic, " +
			"produce a structured research plan: the key questions to answer, the " +
			"sub-topics to investigate, the kinds of sources to consult, and the " +
			"intended structure of the final report. Be specific and actionable; " +
			"number the research questions.",
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     2 * time.Minute,
	},
	RoleResearcher: {
		Role: RoleResearcher,
		SystemPrompt: "You are a research analyst. You are given a research plan and raw " +
			"source material gathered from web search, academic search and page " +
			"scraping. Synthesize the material into organized research notes: group " +
			"findings by research question, keep source attributions, flag gaps " +
			"where the sources do not answer a question, and note conflicting claims.",
		MaxTokens:   4096,
		Temperature: 0.5,
		Timeout:     4 * time.Minute,
	},
	RoleWriter: {
		Role: RoleWriter,
		SystemPrompt: "You are a technical report writer. Using the research plan and the " +
			"research notes provided, write a comprehensive, well-structured report " +
			"in Markdown. Follow the structure laid out in the plan, cite the sources " +
			"mentioned in the notes, and keep the tone factual and precise.",
		MaxTokens:   8192,
		Temperature: 0.6,
		Timeout:     5 * time.Minute,
	},
	RoleReviewer: {
		Role: RoleReviewer,
		SystemPrompt: "You are a critical report reviewer. Assess the draft for accuracy, " +
			"completeness against the research plan, logical structure and clarity. " +
			"List concrete issues with severity. If the report needs no substantive " +
			"changes, say explicitly that it is ready to publish.",
		MaxTokens:   2048,
		Temperature: 0.3,
		Timeout:     2 * time.Minute,
	},
	RoleReviser: {
		Role: RoleReviser,
		SystemPrompt: "You are a report editor. Revise the draft to address every issue " +
			"raised in the review feedback while preserving the report's structure " +
			"and factual content. Return the complete revised report, not a diff.",
		MaxTokens:   8192,
		Temperature: 0.5,
		Timeout:     5 * time.Minute,
	},
	RoleFactChecker: {
		Role: RoleFactChecker,
		SystemPrompt: "You are a fact checker. Cross-check the report's claims against the " +
			"research notes. For each questionable claim, state the claim, why it is " +
			"questionable, and a suggested correction. Close with an overall " +
			"confidence assessment.",
		MaxTokens:   2048,
		Temperature: 0.2,
		Timeout:     3 * time.Minute,
	},
	RoleFormatter: {
		Role: RoleFormatter,
		SystemPrompt: "You are a document formatter. Normalize the report's Markdown: " +
			"consistent heading levels, a table of contents, numbered references, " +
			"and a metadata header with title and date. Do not change the content.",
		MaxTokens:   8192,
		Temperature: 0.1,
		Timeout:     2 * time.Minute,
	},
	RoleSummarizer: {
		Role: RoleSummarizer,
		SystemPrompt: "You are an executive-summary writer. Distill the report into a " +
			"summary of at most three paragraphs: what was investigated, the key " +
			"findings, and the main conclusions. Write for a reader who will not " +
			"read the full report.",
		MaxTokens:   1024,
		Temperature: 0.4,
		Timeout:     90 * time.Second,
	},
}

// ProfileFor returns the invocation profile for role. Unknown roles get
// a conservative default profile.
func ProfileFor(role Role) Profile {
	if p, ok := profiles[role]; ok {
		return p
	}
	return Profile{
		Role:        role,
		MaxTokens:   2048,
		Temperature: 0.5,
		Timeout:     2 * time.Minute,
	}
}
