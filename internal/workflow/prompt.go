package workflow

import (
	"fmt"

	"github.com/mohammad-safakhou/spinloop/provider"
)

// InitialFeedback stands in for feedback on the first generation.
const InitialFeedback = "Initial spin."

const editorSystemPrompt = `You are an expert editor. Your task is to synthesize and refine text. You will be given two versions: a 'Scraped Original' and a 'Current Generated Version'. You must use both texts along with the user's specific 'Feedback' to produce a single, improved version. Prioritize the user's feedback. If the 'Current Generated Version' is empty, treat this as the first generation and focus on rewriting the 'Scraped Original'.`

const editorUserTemplate = `--- Scraped Original ---
%s

--- Current Generated Version ---
%s

--- User Feedback ---
%s

--- New, Improved Version Below (write only the text) ---`

// EditorMessages builds the rewrite prompt. Only the latest feedback is
// sent; an empty history uses InitialFeedback.
func EditorMessages(original, generated string, feedback []string) []provider.Message {
	latest := InitialFeedback
	if n := len(feedback); n > 0 {
		latest = feedback[n-1]
	}
	return []provider.Message{
		{Role: "system", Content: editorSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(editorUserTemplate, original, generated, latest)},
	}
}
