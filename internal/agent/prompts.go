package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

const plannerPrompt = `You are a planning agent that helps break down web tasks into smaller steps and reason about the current state.
Your role is to:
1. Decide whether the ultimate task needs a web browser at all (web_task).
2. Analyze the current browser state and the history of actions.
3. Evaluate progress towards the ultimate task.
4. Identify potential challenges or roadblocks.
5. Suggest the next high-level steps to take.

Rules:
- If web_task is false, answer the task directly in next_steps, set done to true and leave observation, challenges and reasoning empty.
- Set done to true only when the ultimate task is fully complete.
- Prefer direct URLs over searching when you know the target site.
- Keep next_steps short: two or three concrete high-level steps.
- Respond with a JSON object with exactly these fields:
  {"observation": string, "challenges": string, "done": boolean, "next_steps": string, "reasoning": string, "web_task": boolean}
- Write every text field in %s.`

const navigatorPrompt = `You are a navigator agent that operates a web browser to accomplish a task.

# Input
- The task, the plan from the planner and the results of your previous actions.
- The current browser state: URL, open tabs and the interactive elements in the viewport, listed as
  [index]<tag attributes>text</tag>. Elements marked *[index]* appeared since the previous state.

# Rules
1. Only use indices that exist in the current state. Indices change after every page change.
2. Return at most %d actions. When the page changes during your sequence the remaining actions are dropped.
3. Prefer elements visible without scrolling. Scroll only as a last resort, at most one page per step.
4. Use select for dropdowns; do not click their options.
5. Use done once the ultimate task is complete, with the final answer as its text.
6. Evaluate whether your previous goal succeeded before choosing the next one.

# Actions
%s
# Response format
{"current_state": {"evaluation_previous_goal": "Success|Failed|Unknown - why", "memory": "what has been done and what remains", "next_goal": "what the next actions should achieve"},
 "action": [{"action_name": {arguments}}, ...]}
Write the text fields in %s.`

const validatorPrompt = `You are a validator of an agent that interacts with a browser.
Decide whether the ultimate task was completed, based on the browser state and the final answer of the agent.

Rules:
- If the page shows a login or credential prompt that blocks the task, the result is valid: set is_valid to true and explain in answer that the user has to sign in.
- If the task is unclear, the result is valid when the agent made a reasonable attempt.
- If the task requires consolidating information from several pages, focus on the last page and the final answer.
- When is_valid is true, answer must start with "✅" followed by the answer to the task.
- When is_valid is false, reason must say what is missing.
- Respond with a JSON object: {"is_valid": boolean, "reason": string, "answer": string}
- Write reason and answer in %s.`

func plannerSystemMessage(lang locale.Language) schemas.Message {
	return schemas.SystemMessage(fmt.Sprintf(plannerPrompt, lang.Name()))
}

func navigatorSystemMessage(lang locale.Language, maxActions int) schemas.Message {
	return schemas.SystemMessage(fmt.Sprintf(navigatorPrompt, maxActions, actions.Describe(), lang.Name()))
}

func validatorSystemMessage(lang locale.Language) schemas.Message {
	return schemas.SystemMessage(fmt.Sprintf(validatorPrompt, lang.Name()))
}

// stateMessage renders a snapshot, and optionally the results of the previous
// batch, as a user message. The screenshot is attached only when withImage is set.
func stateMessage(snap *schemas.BrowserStateSnapshot, results []schemas.ActionResult, step, maxSteps int, withImage bool) schemas.Message {
	var sb strings.Builder
	sb.WriteString("[Task history memory ends]\n[Current state starts here]\n")
	if snap == nil {
		sb.WriteString("The browser state is unavailable.\n")
		return schemas.UserMessage(sb.String())
	}

	fmt.Fprintf(&sb, "Current url: %s\n", snap.URL())
	fmt.Fprintf(&sb, "Current page title: %s\n", snap.Title())
	if tabs := snap.Tabs(); len(tabs) > 1 {
		sb.WriteString("Open tabs:\n")
		for _, t := range tabs {
			fmt.Fprintf(&sb, "- %s %s (%s)\n", t.ID, t.URL, t.Title)
		}
	}

	sb.WriteString("Interactive elements from the current viewport:\n")
	if snap.PixelsAbove() > 0 {
		fmt.Fprintf(&sb, "... %d pixels above - scroll up to see more ...\n", snap.PixelsAbove())
	} else {
		sb.WriteString("[Start of page]\n")
	}
	if snap.Len() == 0 {
		sb.WriteString("(no interactive elements)\n")
	} else {
		sb.WriteString(snap.ElementsText())
	}
	if snap.PixelsBelow() > 0 {
		fmt.Fprintf(&sb, "... %d pixels below - scroll down to see more ...\n", snap.PixelsBelow())
	} else {
		sb.WriteString("[End of page]\n")
	}

	if maxSteps > 0 {
		fmt.Fprintf(&sb, "Current step: %d/%d\n", step+1, maxSteps)
	}
	for i, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(&sb, "Action error %d/%d: %s\n", i+1, len(results), lastLine(r.Error))
		case r.ExtractedContent != "":
			fmt.Fprintf(&sb, "Action result %d/%d: %s\n", i+1, len(results), r.ExtractedContent)
		}
	}

	msg := schemas.UserMessage(sb.String())
	if withImage && snap.HasScreenshot() {
		msg.Image = snap.Screenshot()
		msg.ImageMIME = "image/png"
	}
	return msg
}

// lastLine keeps error reports short: wrapped chains put the cause last.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
