package flow

import (
	"context"
	"strings"

	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/phrase"
)

// LocationFlow either describes the user's surroundings or texts a maps link
// of the current position to a number or contact.
func LocationFlow() *Definition {
	return &Definition{
		Type:    models.FlowTypeLocation,
		Initial: models.StateAskType,
		States: map[models.StateType]StateSpec{
			models.StateAskType: {
				Kind: KindAsking,
				Entry: func(Data) Prompt {
					return sayAs("Do you want to know your current location or send your location? Please say 'current' or 'send'.",
						"Do you want to know your current location or send your location? Please say current or send")
				},
				Retry: func(Data) Prompt {
					return sayAs("I didn't understand. Please say 'current' or 'send'.",
						"I didn't understand. Please say current or send")
				},
			},
			models.StateGetCurrent: {Kind: KindAwaiting},
			models.StateAskDestinationType: {
				Kind:  KindAsking,
				Entry: func(Data) Prompt { return locationAskDestinationType() },
				Retry: func(Data) Prompt {
					return sayAs("I didn't understand. Please say 'number' or 'contact'.",
						"I didn't understand. Please say number or contact")
				},
			},
			models.StateGetNumber: {
				Kind:  KindAsking,
				Entry: func(Data) Prompt { return locationAskNumber() },
				Retry: func(Data) Prompt {
					return sayAs("That doesn't seem like a valid number. Please try again.",
						"That doesn't seem like a valid number. Please say the number again")
				},
			},
			models.StateGetContact: {
				Kind:  KindAsking,
				Entry: func(Data) Prompt { return locationAskContact() },
				Retry: func(Data) Prompt {
					return sayAs("I didn't catch a valid contact name. Please try again.",
						"I didn't catch a valid contact name. Please say the contact name again")
				},
			},
			models.StateConfirmNumber: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmNumber(d.Get(models.DataKeyDestination)) },
			},
			models.StateConfirmContact: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmName(d.Get(models.DataKeyDestination)) },
			},
			models.StateSending:  {Kind: KindAwaiting},
			models.StateFinished: {Kind: KindTerminal},
		},
		Step:     locationStep,
		Complete: locationComplete,
	}
}

func locationAskDestinationType() Prompt {
	return sayAs("Do you want to send your location to a number or contact? Please say 'number' or 'contact'.",
		"Do you want to send your location to a number or contact? Please say number or contact")
}

func locationAskNumber() Prompt {
	return sayAs("Please say the number you want to send your location to.",
		"Please say the number you want to send your location to")
}

func locationAskContact() Prompt {
	return sayAs("Please say the contact name you want to send your location to.",
		"Please say the contact name you want to send your location to")
}

func sendingLocation(destination string) Prompt {
	return sayAs("Sending your location to "+destination, "Sending your location")
}

func locationStep(ctx context.Context, env Env, state models.StateType, text string, data Data) Turn {
	switch state {
	case models.StateAskType:
		switch {
		case phrase.ContainsKeyword(text, "current"):
			return Turn{
				Next:    models.StateGetCurrent,
				Prompt:  sayAs("Retrieving your current location...", "Retrieving your current location"),
				Effect:  &Effect{Kind: EffectDescribeLocation},
				Outcome: OutcomeAdvanced,
			}
		case phrase.ContainsKeyword(text, "send"):
			return Turn{Next: models.StateAskDestinationType, Prompt: locationAskDestinationType(), Outcome: OutcomeAdvanced}
		}
		return stay(OutcomeAmbiguousInput)

	case models.StateAskDestinationType:
		switch {
		case phrase.ContainsKeyword(text, "number"):
			return Turn{
				Next:    models.StateGetNumber,
				Prompt:  locationAskNumber(),
				Data:    data.With(models.DataKeyIsNumber, "true"),
				Outcome: OutcomeAdvanced,
			}
		case phrase.ContainsKeyword(text, "contact"):
			return Turn{
				Next:    models.StateGetContact,
				Prompt:  locationAskContact(),
				Data:    data.With(models.DataKeyIsNumber, "false"),
				Outcome: OutcomeAdvanced,
			}
		}
		return stay(OutcomeAmbiguousInput)

	case models.StateGetNumber:
		number := phrase.NormalizeDigits(text)
		if !phrase.IsPhoneLike(number) {
			return stay(OutcomeInvalidInput)
		}
		return Turn{
			Next:    models.StateConfirmNumber,
			Prompt:  confirmNumber(number),
			Data:    data.With(models.DataKeyDestination, number),
			Outcome: OutcomeAdvanced,
		}

	case models.StateGetContact:
		name := strings.TrimSpace(text)
		return Turn{
			Next:    models.StateConfirmContact,
			Prompt:  confirmName(name),
			Data:    data.With(models.DataKeyDestination, name),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmNumber:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next: models.StateGetNumber,
				Prompt: sayAs("Please say the number you want to send your location to again.",
					"Okay, please say the number you want to send your location to again"),
				Outcome: OutcomeAdvanced,
			}
		}
		number := data.Get(models.DataKeyDestination)
		return Turn{
			Next:    models.StateSending,
			Prompt:  sendingLocation(number),
			Effect:  &Effect{Kind: EffectShareLocation, Number: number},
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmContact:
		name := data.Get(models.DataKeyDestination)
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next: models.StateGetContact,
				Prompt: sayAs("Please say the contact name you want to send your location to again.",
					"Okay, please say the contact name you want to send your location to again"),
				Outcome: OutcomeAdvanced,
			}
		}
		number, found := resolveContact(ctx, env, name)
		if !found {
			p := noContact(name)
			next := locationAskDestinationType()
			return Turn{
				Next:    models.StateAskDestinationType,
				Prompt:  sayAs(p.Text+" "+next.Text, p.Speech+". "+next.Speech),
				Outcome: OutcomeResolutionFailure,
			}
		}
		return Turn{
			Next:    models.StateSending,
			Prompt:  sendingLocation(name),
			Data:    data.With(models.DataKeyResolvedNumber, number),
			Effect:  &Effect{Kind: EffectShareLocation, Number: number},
			Outcome: OutcomeAdvanced,
		}
	}
	return stay(OutcomeAmbiguousInput)
}

func locationComplete(state models.StateType, effect Effect, result EffectResult, data Data) Turn {
	finished := func(p Prompt, outcome Outcome) Turn {
		return Turn{Next: models.StateFinished, Prompt: p, Outcome: outcome}
	}
	if result.Status == ResultNotFound {
		return finished(say("Unable to retrieve location. Please try again later."), OutcomeActionFailure)
	}

	if state == models.StateGetCurrent {
		switch {
		case result.Status == ResultOK && result.Detail != "":
			return finished(say("You're near "+result.Detail+"."), OutcomeCompleted)
		case result.Status == ResultOK:
			return finished(say("Your current location has been determined."), OutcomeCompleted)
		case result.Status == ResultUnavailable:
			return finished(say("Unable to determine your relative location."), OutcomeCompleted)
		default:
			return finished(say("Failed to get location. Please try again later."), OutcomeActionFailure)
		}
	}

	if result.Status != ResultOK {
		return finished(say("Failed to send your location."), OutcomeActionFailure)
	}
	return finished(sayAs("Your location: "+result.Detail, "Location sent."), OutcomeCompleted)
}
