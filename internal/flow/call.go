package flow

import (
	"context"
	"strings"

	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/phrase"
)

// CallFlow places a phone call to a spoken number or a directory contact.
func CallFlow() *Definition {
	return &Definition{
		Type:    models.FlowTypeCall,
		Initial: models.StateAskType,
		States: map[models.StateType]StateSpec{
			models.StateAskType: {
				Kind: KindAsking,
				Entry: func(Data) Prompt {
					return sayAs(`Do you wanna call on a number or saved contact? Reply with either "number" or "contact"`,
						"Do you wanna call on a number or saved contact? Reply with either number or contact")
				},
				Retry: func(Data) Prompt {
					return sayAs("I didn't understand. Please reply with either number or contact.",
						"I didn't understand. Please reply with either number or contact")
				},
			},
			models.StateAskNumber: {
				Kind:  KindAsking,
				Entry: func(Data) Prompt { return callAskNumber() },
				Retry: func(Data) Prompt {
					return sayAs("I didn't catch a valid number. Please try again.",
						"I didn't catch a valid number. Please say the number you wanna call")
				},
			},
			models.StateConfirmNumber: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmNumber(d.Get(models.DataKeyNumber)) },
			},
			models.StateAskContact: {
				Kind:  KindAsking,
				Entry: func(Data) Prompt { return callAskContact() },
				Retry: func(Data) Prompt {
					return sayAs("I didn't catch a valid contact name. Please try again.",
						"I didn't catch a valid contact name. Please say the name of the person you wanna call")
				},
			},
			models.StateConfirmContact: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmName(d.Get(models.DataKeyContact)) },
			},
			models.StatePlacingCall: {Kind: KindAwaiting},
			models.StateFinished:    {Kind: KindTerminal},
		},
		Step:     callStep,
		Complete: callComplete,
	}
}

func callAskNumber() Prompt {
	return sayAs("Please say the number you wanna call.", "Please say the number you wanna call")
}

func callAskContact() Prompt {
	return sayAs("Please say the name of the person you wanna call.", "Please say the name of the person you wanna call")
}

func callStep(ctx context.Context, env Env, state models.StateType, text string, data Data) Turn {
	switch state {
	case models.StateAskType:
		switch {
		case phrase.ContainsKeyword(text, "number"):
			return Turn{Next: models.StateAskNumber, Prompt: callAskNumber(), Outcome: OutcomeAdvanced}
		case phrase.ContainsKeyword(text, "contact"):
			return Turn{Next: models.StateAskContact, Prompt: callAskContact(), Outcome: OutcomeAdvanced}
		}
		return stay(OutcomeAmbiguousInput)

	case models.StateAskNumber:
		number := phrase.NormalizeDigits(text)
		if !phrase.IsPhoneLike(number) {
			return stay(OutcomeInvalidInput)
		}
		return Turn{
			Next:    models.StateConfirmNumber,
			Prompt:  confirmNumber(number),
			Data:    data.With(models.DataKeyNumber, number),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmNumber:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateAskNumber,
				Prompt:  sayAs("Please say the number you wanna call again.", "Okay, please say the number you wanna call again"),
				Outcome: OutcomeAdvanced,
			}
		}
		number := data.Get(models.DataKeyNumber)
		return Turn{
			Next:    models.StatePlacingCall,
			Prompt:  say("Calling " + number),
			Effect:  &Effect{Kind: EffectPlaceCall, Number: number},
			Outcome: OutcomeAdvanced,
		}

	case models.StateAskContact:
		name := strings.TrimSpace(text)
		return Turn{
			Next:    models.StateConfirmContact,
			Prompt:  confirmName(name),
			Data:    data.With(models.DataKeyContact, name),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmContact:
		name := data.Get(models.DataKeyContact)
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateAskContact,
				Prompt:  sayAs("Please say the name of the person you wanna call again.", "Okay, please say the name of the person you wanna call again"),
				Outcome: OutcomeAdvanced,
			}
		}
		number, found := resolveContact(ctx, env, name)
		if !found {
			return Turn{
				Next:    models.StateAskContact,
				Prompt:  noContact(name),
				Outcome: OutcomeResolutionFailure,
			}
		}
		return Turn{
			Next:    models.StatePlacingCall,
			Prompt:  say("Calling " + name),
			Data:    data.With(models.DataKeyResolvedNumber, number),
			Effect:  &Effect{Kind: EffectPlaceCall, Number: number},
			Outcome: OutcomeAdvanced,
		}
	}
	return stay(OutcomeAmbiguousInput)
}

func callComplete(state models.StateType, effect Effect, result EffectResult, data Data) Turn {
	if result.Status != ResultOK {
		return Turn{
			Next:    models.StateFinished,
			Prompt:  say("Unable to place the call."),
			Outcome: OutcomeActionFailure,
		}
	}
	return Turn{
		Next:    models.StateFinished,
		Prompt:  Prompt{Text: "Conversation finished.", Silent: true},
		Outcome: OutcomeCompleted,
	}
}

// confirmNumber reads a number back digit by digit.
func confirmNumber(number string) Prompt {
	spoken := phrase.SpokenDigits(number)
	return sayAs("You said "+spoken+". Is that correct? Please say yes or no.",
		"You said "+spoken+". Is that correct? Please say yes or no")
}

func confirmName(name string) Prompt {
	return sayAs("You said "+name+". Is that correct? Please say yes or no.",
		"You said "+name+". Is that correct? Please say yes or no")
}

func noContact(name string) Prompt {
	return sayAs("No contact found with name "+name+".", "No contact found with name "+name)
}
