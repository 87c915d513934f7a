package ussd

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/umoja-loans/loan-engine/internal/domain"
)

// Reply is one screen of a session: the text to show and whether the session
// terminates here.
type Reply struct {
	Message  string
	Terminal bool
}

// Session is the re-derived state of one request: the user plus the inputs
// entered so far. Nothing is held between requests; the telephony gateway
// round-trips the entire path string.
type Session struct {
	User   *domain.User
	Inputs []string
}

// Step is one input-collecting level of a flow: a prompt for the next input
// and a validator for what the user typed at this level.
type Step struct {
	Prompt   func(ctx context.Context, s *Session) (string, error)
	Validate func(input string) error
}

// Flow is a declarative menu branch: its steps collect inputs in order and
// Finish runs once all steps are answered. Flows with no steps are
// informational and terminate on first selection.
type Flow struct {
	Title  string
	Steps  []Step
	Finish func(ctx context.Context, s *Session) (string, error)
}

// Menu maps the first path segment onto a flow. Keys are the digits offered
// on the welcome screen.
type Menu struct {
	Order []string
	Flows map[string]*Flow
}

// Welcome renders the root screen from the flow registry.
func (m *Menu) Welcome() string {
	text := "Welcome to Umoja Loans"
	for _, key := range m.Order {
		text += fmt.Sprintf("\n%s. %s", key, m.Flows[key].Title)
	}
	return text
}

// Run resolves a parsed path against the menu: it validates the inputs
// entered so far, prompts for the next step, or finishes the flow.
func (m *Menu) Run(ctx context.Context, s *Session) (Reply, error) {
	if len(s.Inputs) == 0 {
		return Reply{Message: m.Welcome()}, nil
	}

	flow, ok := m.Flows[s.Inputs[0]]
	if !ok {
		return Reply{Message: "Invalid option. Please try again.", Terminal: true}, nil
	}

	answers := s.Inputs[1:]
	for i, answer := range answers {
		if i >= len(flow.Steps) {
			break
		}
		if flow.Steps[i].Validate != nil {
			if err := flow.Steps[i].Validate(answer); err != nil {
				return Reply{Message: err.Error(), Terminal: true}, nil
			}
		}
	}

	if len(answers) < len(flow.Steps) {
		prompt, err := flow.Steps[len(answers)].Prompt(ctx, s)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Message: prompt}, nil
	}

	message, err := flow.Finish(ctx, s)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Message: message, Terminal: true}, nil
}

// purposes maps the purpose menu digit onto the recorded loan purpose.
var purposes = map[string]string{
	"1": "Emergency",
	"2": "Business",
	"3": "Education",
	"4": "Other",
}

func purposeFor(input string) string {
	if p, ok := purposes[input]; ok {
		return p
	}
	return "General"
}

func validAmount(input string) error {
	amount, err := decimal.NewFromString(input)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("Invalid amount entered. Please try again.")
	}
	return nil
}
