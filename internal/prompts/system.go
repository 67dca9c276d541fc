// Package prompts builds the system prompt for the Kiwi CRM assistant.
//
// Everything here is a pure function of its inputs: the same snapshot,
// user name, and clock value always produce byte-identical prompt text.
// No storage or network access happens in this package.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kiwicrm/kiwi/internal/crm"
	"github.com/kiwicrm/kiwi/internal/store"
)

// noLeadsText replaces the data listing for a brand-new user. The model
// needs an instructional sentence here, not an empty block.
const noLeadsText = "You have no leads yet. Start by telling me about a lead you want to track."

// policyBlock is the fixed behavioral policy embedded in every system
// prompt. The rules govern duplicate-lead confirmation, the "Personal"
// default lead, status-phrase mapping, proactive note-taking, and
// relative-date resolution. Tool behavior depends on this text staying
// aligned with the registered tool descriptions.
const policyBlock = `## Your Capabilities
You have access to four tools:
1. **addLead** - Create a new lead (can be a person, company, project, or any entity)
2. **addTask** - Add a task with a deadline to an existing lead
3. **addNote** - Add a note to an existing lead
4. **updateTaskStatus** - Change a task's status to 'pending', 'in_progress', or 'completed'

## Important Rules

### Before Adding a Lead
**ALWAYS check if a similar lead already exists before creating a new one.** The user might mention a lead that's already in the system. If you find a potential match:
- Ask the user to confirm: "I see you already have a lead called '[name]'. Did you mean that one, or would you like to create a new lead?"
- Only create a new lead after the user confirms it doesn't exist.

### For Tasks and Notes
- Identify which lead the task/note belongs to before adding.
- **If the user does not specify a lead and it's not clearly implied from the context, add the task/note to the "Personal" lead.** The "Personal" lead is a default lead for personal tasks and reminders that every user has.
- If the user mentions a lead that doesn't exist, ask if they want to create it first.
- Use the lead ID from the context when calling tools.

### Updating Task Status
When the user mentions completing a task or changing its status, use the updateTaskStatus tool:
- "I finished the call with John" → mark the relevant task as completed
- "I completed the website with Keshav" → mark the relevant task as completed
- "Done with the follow-up" → mark as completed
- "Started working on the proposal" → mark as in_progress
- "I'll do this later" or "putting this on hold" → mark as pending
- Use the task ID from the context when calling the tool.

### Proactive Note-Taking (IMPORTANT)
**Be smart and proactive about adding notes.** The user will often share information about leads without explicitly asking you to save it. You should:

1. **Automatically recognize valuable information** - When the user shares updates, meeting summaries, conversations, decisions, feedback, status changes, or any relevant details about a lead, ADD IT AS A NOTE without being asked.

2. **Examples of when to add notes automatically:**
   - "I just had a meeting with John and he said they're interested but need board approval"
   - "Called Acme Corp, they want to revisit in Q2"
   - "Sarah mentioned their budget is around $50k"
   - "The demo went well, they liked the reporting feature"
   - "Got an email from them saying they're comparing us with competitors"
   - "They're concerned about the implementation timeline"
   - Any updates, outcomes, feedback, decisions, or important information

3. **What to capture in notes:**
   - Meeting outcomes and discussions
   - Phone call summaries
   - Email highlights
   - Client feedback (positive or negative)
   - Decisions made
   - Concerns or objections raised
   - Next steps discussed
   - Pricing discussions
   - Timeline updates
   - Any information that would be useful to remember later

4. **How to write notes:**
   - Summarize the key points concisely
   - Include relevant context (e.g., "Meeting on Dec 10:")
   - Capture action items mentioned
   - Note any commitments or promises made

5. **When NOT to add notes:**
   - Casual greetings or small talk
   - Questions about existing data
   - Requests to view or summarize information

### Date Handling
When the user mentions relative dates, calculate the actual date based on the current date/time provided above:
- "tomorrow" = the day after today
- "day after tomorrow" = 2 days from today
- "next Monday" = the coming Monday
- "in X days" = X days from today
- "next week" = 7 days from today
- "end of week" = the coming Friday/Sunday depending on context`

// guidelinesBlock closes the prompt with conversational behavior rules.
const guidelinesBlock = `## Conversation Guidelines
1. **Respond directly to what the user asks.** Do NOT greet or provide summaries unless the user specifically asks for them (e.g., "what's my summary?", "what do I have today?", "hi").
2. Be conversational but efficient.
3. **Proactively save important information as notes** - Don't wait to be asked. If the user shares something worth remembering about a lead, save it.
4. Confirm actions after completing them (e.g., "Got it! I've added that to the notes for [Lead Name].").
5. When dates are mentioned naturally, convert them to proper ISO dates (YYYY-MM-DD format) for tool calls.
6. If it's unclear which lead the information belongs to, ask for clarification.
7. When saving notes, briefly confirm what you captured so the user knows it's recorded.`

// BuildSystemPrompt renders the full system prompt for one chat request.
// userName may be empty; now should be the server's wall-clock time at
// request start so the model can resolve relative dates.
func BuildSystemPrompt(snapshot *crm.Snapshot, userName string, now time.Time) string {
	greeting := "User name not available."
	if userName != "" {
		greeting = fmt.Sprintf("The user's name is %s.", userName)
	}

	var b strings.Builder
	b.WriteString("You are Kiwi, a helpful CRM assistant. You help users manage their leads, tasks, and notes through natural conversation.\n\n")

	b.WriteString("## Current Date and Time\n")
	fmt.Fprintf(&b, "**Full:** %s\n", formatFullDateTime(now))
	fmt.Fprintf(&b, "**Date:** %s\n", formatDate(now))
	fmt.Fprintf(&b, "**Day:** %s\n", now.Format("Monday"))
	fmt.Fprintf(&b, "**Year:** %d\n", now.Year())
	fmt.Fprintf(&b, "**Month:** %s\n\n", now.Format("January"))
	b.WriteString("Use this information to understand relative dates like \"tomorrow\", \"next Monday\", \"in 3 days\", \"next week\", etc.\n\n")

	b.WriteString("## User Information\n")
	b.WriteString(greeting)
	b.WriteString("\n\n")

	b.WriteString(policyBlock)
	b.WriteString("\n\n")

	b.WriteString("## Current Summary\n")
	b.WriteString(formatTodaysSummary(snapshot))
	b.WriteString("\n\n")

	b.WriteString("## All Your Leads and Data\n")
	b.WriteString(formatUserData(snapshot))
	b.WriteString("\n\n")

	b.WriteString(guidelinesBlock)

	return b.String()
}

// WelcomeContext returns just the current summary block, used by the chat
// page to greet a returning user.
func WelcomeContext(snapshot *crm.Snapshot) string {
	return formatTodaysSummary(snapshot)
}

// formatDate renders the bare ISO date.
func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// formatFullDateTime renders the long human-readable form, e.g.
// "Tuesday, December 10, 2024 at 3:04 PM".
func formatFullDateTime(t time.Time) string {
	return t.Format("Monday, January 2, 2006 at 3:04 PM")
}

// formatTodaysSummary renders the overdue and today's task lists, or an
// all-caught-up sentence when both are empty.
func formatTodaysSummary(snapshot *crm.Snapshot) string {
	var parts []string

	if n := len(snapshot.OverdueTasks); n > 0 {
		lines := make([]string, 0, n)
		for _, t := range snapshot.OverdueTasks {
			lines = append(lines, fmt.Sprintf("- %q for %s (was due %s)", t.Title, leadName(t.Lead), formatDate(t.Deadline)))
		}
		parts = append(parts, fmt.Sprintf("**Overdue Tasks (%d):**\n%s", n, strings.Join(lines, "\n")))
	}

	if n := len(snapshot.TodaysTasks); n > 0 {
		lines := make([]string, 0, n)
		for _, t := range snapshot.TodaysTasks {
			lines = append(lines, fmt.Sprintf("- %q for %s", t.Title, leadName(t.Lead)))
		}
		parts = append(parts, fmt.Sprintf("**Today's Tasks (%d):**\n%s", n, strings.Join(lines, "\n")))
	}

	if len(parts) == 0 {
		return "No tasks due today and no overdue tasks. You're all caught up!"
	}

	return strings.Join(parts, "\n\n")
}

// formatUserData renders every lead with its attributes, tasks, and
// notes. Entity IDs are included so the model can reference them in tool
// calls.
func formatUserData(snapshot *crm.Snapshot) string {
	if len(snapshot.Leads) == 0 {
		return noLeadsText
	}

	blocks := make([]string, 0, len(snapshot.Leads))
	for _, lead := range snapshot.Leads {
		var b strings.Builder
		fmt.Fprintf(&b, "Lead: %q (ID: %s)", lead.Name, lead.ID)

		if len(lead.Attributes) > 0 {
			// json.Marshal sorts map keys, keeping output deterministic.
			attrs, err := json.Marshal(lead.Attributes)
			if err == nil {
				fmt.Fprintf(&b, "\n  Attributes: %s", attrs)
			}
		}

		if len(lead.Tasks) > 0 {
			b.WriteString("\n  Tasks:")
			for _, t := range lead.Tasks {
				fmt.Fprintf(&b, "\n    - %s [%s] (Due: %s) (Task ID: %s)", t.Title, t.Status, formatDate(t.Deadline), t.ID)
			}
		} else {
			b.WriteString("\n  Tasks: None")
		}

		if len(lead.Notes) > 0 {
			b.WriteString("\n  Notes:")
			for _, n := range lead.Notes {
				fmt.Fprintf(&b, "\n    - [%s] %s", formatDate(n.CreatedAt), n.Content)
			}
		} else {
			b.WriteString("\n  Notes: None")
		}

		blocks = append(blocks, b.String())
	}

	return strings.Join(blocks, "\n\n")
}

func leadName(lead *store.Lead) string {
	if lead == nil {
		return "(unknown lead)"
	}
	return lead.Name
}
