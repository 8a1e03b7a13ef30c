package flow

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step indexes with a fixed meaning in the review.
const (
	ReasonStep      = 1
	MedicationsStep = 2
)

// Placeholders substituted when prompts are rendered.
const (
	firstNamePlaceholder  = "{first_name}"
	minimumAgePlaceholder = "{minimum_age}"
)

// ScriptStep is one entry of the intake stepper. Step 0 (Basics) collects the
// name and date of birth and has no free-text prompt of its own.
type ScriptStep struct {
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
	Field  string `yaml:"field"` // review field label for the answer
}

// GuardianNotice is shown when the age gate blocks a session.
type GuardianNotice struct {
	Title     string `yaml:"title" json:"title"`
	Body      string `yaml:"body" json:"body"`
	Emergency string `yaml:"emergency" json:"emergency"`
}

// PromptScript holds the assistant's wording and the step sequence.
type PromptScript struct {
	Greeting       string         `yaml:"greeting"`
	AskDateOfBirth string         `yaml:"ask_date_of_birth"`
	Closing        string         `yaml:"closing"`
	Guardian       GuardianNotice `yaml:"guardian"`
	Steps          []ScriptStep   `yaml:"steps"`
}

// DefaultScript returns the built-in clinic script.
func DefaultScript() PromptScript {
	return PromptScript{
		Greeting:       "Hi! I'm your Intake Assistant. I'm here to help you check in today. Can you please tell me your full name?",
		AskDateOfBirth: "Thanks, " + firstNamePlaceholder + ". What's your date of birth?",
		Closing:        "Thanks! Your intake is complete. A member of our care team will review it before your visit.",
		Guardian: GuardianNotice{
			Title:     "A parent or legal guardian is required",
			Body:      "Because you're under " + minimumAgePlaceholder + ", we legally can't continue this intake without a parent or legal guardian present. Please go to your local clinic or hospital with a guardian.",
			Emergency: "If this is an emergency, call 911.",
		},
		Steps: []ScriptStep{
			{Label: "Basics"},
			{Label: "Symptoms", Prompt: "Got it. What's the reason for your visit today?", Field: "Reason for visit"},
			{Label: "Medications", Prompt: "I understand. Are you currently taking any medications?", Field: "Current medications"},
			{Label: "Confirm", Prompt: "Thank you for that information. Let me confirm the details with you before we finish.", Field: "Confirmation"},
		},
	}
}

// Validate checks that the script can drive a complete intake.
func (p PromptScript) Validate() error {
	if strings.TrimSpace(p.Greeting) == "" {
		return fmt.Errorf("script: greeting is required")
	}
	if strings.TrimSpace(p.AskDateOfBirth) == "" {
		return fmt.Errorf("script: ask_date_of_birth is required")
	}
	if strings.TrimSpace(p.Closing) == "" {
		return fmt.Errorf("script: closing is required")
	}
	if len(p.Steps) <= MedicationsStep {
		return fmt.Errorf("script: at least %d steps are required, got %d", MedicationsStep+1, len(p.Steps))
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step.Label) == "" {
			return fmt.Errorf("script: step %d has no label", i)
		}
		if i > 0 && strings.TrimSpace(step.Prompt) == "" {
			return fmt.Errorf("script: step %d (%s) has no prompt", i, step.Label)
		}
	}
	return nil
}

// StepLabels returns the stepper labels in order.
func (p PromptScript) StepLabels() []string {
	labels := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		labels[i] = step.Label
	}
	return labels
}

// FieldLabel returns the review field label for a step's answer.
func (p PromptScript) FieldLabel(step int) string {
	if step < 0 || step >= len(p.Steps) {
		return ""
	}
	if p.Steps[step].Field != "" {
		return p.Steps[step].Field
	}
	return p.Steps[step].Label
}

// DateOfBirthPrompt renders AskDateOfBirth for the given first name.
func (p PromptScript) DateOfBirthPrompt(firstName string) string {
	return strings.ReplaceAll(p.AskDateOfBirth, firstNamePlaceholder, firstName)
}

// GuardianFor renders the guardian notice for the given age threshold.
func (p PromptScript) GuardianFor(minimumAge int) GuardianNotice {
	notice := p.Guardian
	notice.Body = strings.ReplaceAll(notice.Body, minimumAgePlaceholder, strconv.Itoa(minimumAge))
	return notice
}

// ParseScriptYAML decodes a script. Keys missing from the payload keep their
// default wording; a steps list replaces the default steps entirely.
func ParseScriptYAML(data []byte) (PromptScript, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return PromptScript{}, fmt.Errorf("script: payload is empty")
	}
	script := DefaultScript()
	if err := yaml.Unmarshal(data, &script); err != nil {
		return PromptScript{}, fmt.Errorf("script: decode: %w", err)
	}
	if err := script.Validate(); err != nil {
		return PromptScript{}, err
	}
	return script, nil
}

// LoadScriptFile reads a YAML prompt script from disk.
func LoadScriptFile(path string) (PromptScript, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return PromptScript{}, fmt.Errorf("script: read %s: %w", path, err)
	}
	script, err := ParseScriptYAML(content)
	if err != nil {
		return PromptScript{}, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}
