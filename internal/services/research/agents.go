// Package research defines the six diligence agents and the memo outline.
// The agent order is part of the external contract: the research page is
// written strictly in this order no matter which agent finishes first.
package research

import (
	"fmt"
	"strings"
)

// Agent is one research angle on a deal.
type Agent struct {
	Key   string
	Title string
	Focus string // Injected into the prompt
}

// Agents is the fixed, ordered agent set.
var Agents = []Agent{
	{
		Key:   "market_tam",
		Title: "Market & TAM",
		Focus: "the market the company operates in: total addressable market, growth rate, timing, and why now",
	},
	{
		Key:   "competitors",
		Title: "Competitive Landscape",
		Focus: "direct and indirect competitors, incumbents, recent entrants, and how the company differentiates",
	},
	{
		Key:   "founder_background",
		Title: "Founder Background",
		Focus: "the founder's track record, domain expertise, prior companies, and founder-market fit",
	},
	{
		Key:   "risks_redflags",
		Title: "Risks & Red Flags",
		Focus: "execution risks, market risks, regulatory exposure, and anything a diligence process should flag early",
	},
	{
		Key:   "product_defensibility",
		Title: "Product & Defensibility",
		Focus: "the product, its technical moat, switching costs, network effects, and long-term defensibility",
	},
	{
		Key:   "traction_signals",
		Title: "Traction Signals",
		Focus: "revenue, growth, customer logos, hiring velocity, and other externally observable traction",
	},
}

// AgentByKey returns the agent definition, or ok=false for unknown keys.
func AgentByKey(key string) (Agent, bool) {
	for _, agent := range Agents {
		if agent.Key == key {
			return agent, true
		}
	}
	return Agent{}, false
}

const agentSystemPrompt = "You are a venture capital research analyst. " +
	"Write concise, factual markdown. Use headings and bullet lists. " +
	"Flag uncertainty explicitly instead of guessing. " +
	"End with a short 'Sources' section listing where each claim could be verified."

// SystemPrompt is the shared system instruction for all six agents.
func SystemPrompt() string { return agentSystemPrompt }

// Prompt builds the user prompt for one agent.
func (a Agent) Prompt(company, founder, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research %s for an early-stage investment in %q", a.Focus, company)
	if founder != "" {
		fmt.Fprintf(&sb, ", founded by %s", founder)
	}
	sb.WriteString(".\n\n")
	if context != "" {
		sb.WriteString("Context from the first meeting notes:\n")
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond in markdown with 200-400 words.")
	return sb.String()
}

// MemoSections is the fixed ten-section memo outline, in order.
var MemoSections = []string{
	"Executive Summary",
	"Company Overview",
	"Problem & Solution",
	"Market Opportunity",
	"Product & Technology",
	"Competitive Landscape",
	"Team",
	"Traction & Metrics",
	"Risks & Mitigations",
	"Recommendation",
}

const memoSystemPrompt = "You are a venture capital associate drafting an investment committee memo. " +
	"Write in clear, direct prose. Be specific; avoid filler. " +
	"Where information is missing, say so rather than inventing it."

// MemoSystemPrompt is the system instruction for memo synthesis.
func MemoSystemPrompt() string { return memoSystemPrompt }

// MemoPrompt builds the single memo synthesis prompt.
func MemoPrompt(company, founder, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Draft an investment committee memo for %q", company)
	if founder != "" {
		fmt.Fprintf(&sb, " (founder: %s)", founder)
	}
	sb.WriteString(".\n\nUse exactly these ten sections as markdown '##' headings, in order:\n")
	for i, section := range MemoSections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, section)
	}
	if context != "" {
		sb.WriteString("\nDiligence material gathered so far:\n")
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond in markdown only.")
	return sb.String()
}
