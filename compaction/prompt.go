package compaction

import "fmt"

// SummarizationSystemPrompt instructs the model to condense a chat
// conversation into a summary that can stand in for the original
// messages at the compaction boundary.
const SummarizationSystemPrompt = `You are a conversation summarizer for a chat assistant. Your task is to condense a conversation segment into a summary that will replace those messages in the assistant's memory while preserving everything needed to continue the conversation naturally.

Create a structured summary with the following sections. If a section has no relevant content, write "None".

1. **Participants and Setting**
   - Who is talking and in what context (direct chat, group discussion)
   - Any names, roles, or handles established

2. **Topics Discussed**
   - The subjects covered, in chronological order
   - Questions asked and the answers given

3. **Facts and Commitments**
   - Concrete facts established during the conversation
   - Promises, deadlines, or follow-ups the assistant committed to
   - Preferences the user expressed

4. **Open Items**
   - Unresolved questions or requests
   - Anything the user is still waiting on

## Guidelines

- Be concise but complete; the original messages will no longer be visible
- Preserve exact names, dates, numbers, and identifiers
- Preserve exact user quotes when they convey important intent
- Do not add information that was not in the conversation`

// BuildSummarizationUserPrompt creates the user message for
// summarization, stating the token budget the summary should target.
func BuildSummarizationUserPrompt(conversationText string, targetTokens int) string {
	return fmt.Sprintf(`Please summarize the following conversation according to the format specified in your instructions. Aim for roughly %d tokens.

<conversation>
%s
</conversation>

Produce the summary now, following the section format exactly.`, targetTokens, conversationText)
}
