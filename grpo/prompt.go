package grpo

import (
	"encoding/xml"
	"fmt"
	"math"
	"strings"

	"github.com/go-xmlfmt/xmlfmt"

	"github.com/zaporter/logic-grpo/logic"
)

type PromptStyle string

const (
	// PromptStylePlain asks for the answer on the first line, reasoning after it.
	PromptStylePlain PromptStyle = "plain"
	// PromptStyleXML additionally shows the model a <response> example to copy.
	PromptStyleXML PromptStyle = "xml"
)

var promptTemplates = map[logic.TaskType]string{
	logic.TaskTypeSyllogism:     "Solve this syllogism:\n%s\n\nReasoning:",
	logic.TaskTypePropositional: "Evaluate this propositional argument:\n%s\n\nAnswer:",
	logic.TaskTypeAgreement:     "Fix the agreement in this sentence:\n%s\n\nCorrected:",
	logic.TaskTypeMovement:      "Transform this sentence:\n%s\n\nResult:",
}

const fallbackPromptTemplate = "Solve: %s\nAnswer:"

// XMLResponse is the structured answer format. Marshalling is only used to render
// the example in prompts; model output goes through ParseAction.
type XMLResponse struct {
	XMLName    xml.Name `xml:"response"`
	Think      string   `xml:"think"`
	Answer     string   `xml:"answer"`
	Confidence *float64 `xml:"confidence,omitempty"`
}

func (r XMLResponse) ToXML() (string, error) {
	bytes, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}
	formatted := xmlfmt.FormatXML(string(bytes), "", "\t")
	// xmlfmt is inserting a leading \n
	return strings.TrimSpace(formatted), nil
}

var responseExample = func() string {
	example, err := XMLResponse{
		Think:  "step-by-step reasoning",
		Answer: "the final answer on its own",
	}.ToXML()
	if err != nil {
		panic(err)
	}
	return example
}()

// CreatePrompt renders the question for the policy. Only the observation goes in; the ground truth never does.
func CreatePrompt(obs logic.Observation, style PromptStyle) string {
	template, ok := promptTemplates[obs.TaskType]
	if !ok {
		template = fallbackPromptTemplate
	}
	prompt := fmt.Sprintf(template, obs.Question)
	if style == PromptStyleXML {
		return "Reply using exactly this format:\n" + responseExample + "\n\n" + prompt
	}
	return prompt
}

// ParseAction turns a raw completion into an action. A <response>/<answer> block wins when it parses;
// otherwise the first non-empty line is the answer and the remaining lines are the reasoning.
func ParseAction(response string) logic.LogicAction {
	if action, ok := parseXMLAction(response); ok {
		return action
	}
	return parseLineAction(response)
}

func parseXMLAction(response string) (logic.LogicAction, bool) {
	if !strings.Contains(response, "<answer>") {
		return logic.LogicAction{}, false
	}
	var fragment string
	if start := strings.Index(response, "<response>"); start != -1 {
		end := strings.LastIndex(response, "</response>")
		if end == -1 || end < start {
			return logic.LogicAction{}, false
		}
		fragment = response[start : end+len("</response>")]
	} else {
		start := strings.Index(response, "<think>")
		if start == -1 {
			start = strings.Index(response, "<answer>")
		}
		end := strings.LastIndex(response, "</answer>")
		if end == -1 || end < start {
			return logic.LogicAction{}, false
		}
		fragment = "<response>" + response[start:end+len("</answer>")] + "</response>"
	}
	parsed := XMLResponse{}
	if err := xml.Unmarshal([]byte(fragment), &parsed); err != nil {
		return logic.LogicAction{}, false
	}
	action := logic.NewLogicAction(strings.TrimSpace(parsed.Think), strings.TrimSpace(parsed.Answer))
	if parsed.Confidence != nil {
		action.Confidence = clampConfidence(*parsed.Confidence)
	}
	return action, true
}

func parseLineAction(response string) logic.LogicAction {
	answer := ""
	reasoning := []string{}
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if answer == "" {
			answer = line
			continue
		}
		reasoning = append(reasoning, line)
	}
	if answer == "" {
		answer = strings.TrimSpace(response)
	}
	return logic.NewLogicAction(strings.Join(reasoning, " "), answer)
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return max(0, min(1, c))
}
