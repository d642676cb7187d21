package intent

import "strings"

// keywordRule is one row of the priority table. First match wins.
type keywordRule struct {
	label    string
	keywords []string
}

// keywordRules in priority order: file ops, shell, task completion, tool
// listing, correction, clarification, brainstorming, feedback, chat.
var keywordRules = []keywordRule{
	{IntentReadFile, []string{"read the file", "open the file", "show the file", "what's in the log", "view the log"}},
	{IntentWriteFile, []string{"write to", "save to file", "write a file", "append to the"}},
	{IntentExecute, []string{"run the", "execute", "shell command", "launch the script"}},
	{IntentTaskComplete, []string{"mark as done", "task complete", "finished the task", "close the task"}},
	{IntentListTools, []string{"what tools", "list tools", "your capabilities", "what can you do"}},
	{IntentCorrection, []string{"that's wrong", "you're wrong", "incorrect", "actually it was", "you made a mistake"}},
	{IntentClarification, []string{"what do you mean", "can you explain", "i don't understand", "clarify"}},
	{IntentBrainstorm, []string{"brainstorm", "ideas for", "come up with", "possibilities"}},
	{IntentFeedback, []string{"good job", "well done", "i liked", "i didn't like", "that was great"}},
	{IntentChat, []string{"how are you", "hello", "hey", "what do you think", "tell me about"}},
}

// classifyKeywords is the last tier and always yields a label.
func classifyKeywords(input string) string {
	lower := strings.ToLower(input)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.label
			}
		}
	}
	return IntentOther
}
