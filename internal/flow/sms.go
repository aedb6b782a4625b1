package flow

import (
	"context"
	"strings"

	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/phrase"
)

const (
	destinationKindNumber  = "number"
	destinationKindContact = "contact"
)

// SMSFlow sends a dictated text message to a spoken number or contact.
func SMSFlow() *Definition {
	return &Definition{
		Type:    models.FlowTypeSMS,
		Initial: models.StateAskType,
		States: map[models.StateType]StateSpec{
			models.StateAskType: {
				Kind: KindAsking,
				Entry: func(Data) Prompt {
					return sayAs(`Do you want to send an SMS to a number or saved contact? Reply with either "number" or "contact"`,
						"Do you want to send an SMS to a number or saved contact? Reply with either number or contact")
				},
				Retry: func(Data) Prompt {
					return sayAs("I didn't understand. Please reply with either number or contact.",
						"I didn't understand. Please reply with either number or contact")
				},
			},
			models.StateAskDestination: {
				Kind: KindAsking,
				Entry: func(d Data) Prompt {
					if d.Get(models.DataKeyDestinationKind) == destinationKindContact {
						return smsAskContact()
					}
					return smsAskNumber()
				},
				Retry: func(Data) Prompt {
					return sayAs("I didn't catch a valid destination. Please try again.",
						"I didn't catch a valid destination. Please say the number or contact name")
				},
			},
			models.StateConfirmDestinationNumber: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmNumber(d.Get(models.DataKeyDestination)) },
			},
			models.StateConfirmDestinationContact: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmName(d.Get(models.DataKeyDestination)) },
			},
			models.StateAskMessage: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return smsAskMessage(d.Get(models.DataKeyIsNumber) == "true") },
				Retry: func(Data) Prompt {
					return sayAs("I didn't catch a message. Please try again.",
						"I didn't catch a message. Please say the message you want to send")
				},
			},
			models.StateConfirmMessage: {
				Kind:  KindAsking,
				Entry: func(d Data) Prompt { return confirmMessage(d.Get(models.DataKeyMessage)) },
			},
			models.StateSending:  {Kind: KindAwaiting},
			models.StateFinished: {Kind: KindTerminal},
		},
		Step:     smsStep,
		Complete: smsComplete,
	}
}

func smsAskNumber() Prompt {
	return sayAs("Please say the number you want to text.", "Please say the number you want to text")
}

func smsAskContact() Prompt {
	return sayAs("Please say the name of the contact you want to text.", "Please say the name of the contact you want to text")
}

func smsAskMessage(toNumber bool) Prompt {
	if toNumber {
		return sayAs("Please say the message you want to send to this number.", "Please say the message you want to send to this number")
	}
	return sayAs("Please say the message you want to send to this contact.", "Please say the message you want to send to this contact")
}

func confirmMessage(message string) Prompt {
	return sayAs(`You said: "`+message+`". Is that correct? Please say yes or no.`,
		"You said: "+message+". Is that correct? Please say yes or no")
}

func smsStep(ctx context.Context, env Env, state models.StateType, text string, data Data) Turn {
	switch state {
	case models.StateAskType:
		switch {
		case phrase.ContainsKeyword(text, "number"):
			return Turn{
				Next:    models.StateAskDestination,
				Prompt:  smsAskNumber(),
				Data:    data.With(models.DataKeyDestinationKind, destinationKindNumber),
				Outcome: OutcomeAdvanced,
			}
		case phrase.ContainsKeyword(text, "contact"):
			return Turn{
				Next:    models.StateAskDestination,
				Prompt:  smsAskContact(),
				Data:    data.With(models.DataKeyDestinationKind, destinationKindContact),
				Outcome: OutcomeAdvanced,
			}
		}
		return stay(OutcomeAmbiguousInput)

	case models.StateAskDestination:
		// A phone-like reply is a number whichever branch was chosen at ASK_TYPE.
		if number := phrase.NormalizeDigits(text); phrase.IsPhoneLike(number) {
			return Turn{
				Next:    models.StateConfirmDestinationNumber,
				Prompt:  confirmNumber(number),
				Data:    data.With(models.DataKeyDestination, number).With(models.DataKeyIsNumber, "true"),
				Outcome: OutcomeAdvanced,
			}
		}
		name := strings.TrimSpace(text)
		return Turn{
			Next:    models.StateConfirmDestinationContact,
			Prompt:  confirmName(name),
			Data:    data.With(models.DataKeyDestination, name).With(models.DataKeyIsNumber, "false"),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmDestinationNumber:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateAskDestination,
				Prompt:  sayAs("Please say the number you want to text again.", "Okay, please say the number you want to text again"),
				Outcome: OutcomeAdvanced,
			}
		}
		return Turn{Next: models.StateAskMessage, Prompt: smsAskMessage(true), Outcome: OutcomeAdvanced}

	case models.StateConfirmDestinationContact:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateAskDestination,
				Prompt:  sayAs("Please say the contact name you want to text again.", "Okay, please say the contact name you want to text again"),
				Outcome: OutcomeAdvanced,
			}
		}
		return Turn{Next: models.StateAskMessage, Prompt: smsAskMessage(false), Outcome: OutcomeAdvanced}

	case models.StateAskMessage:
		message := strings.TrimSpace(text)
		return Turn{
			Next:    models.StateConfirmMessage,
			Prompt:  confirmMessage(message),
			Data:    data.With(models.DataKeyMessage, message),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmMessage:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateAskMessage,
				Prompt:  sayAs("Please say the message you want to send again.", "Okay, please say the message you want to send again"),
				Outcome: OutcomeAdvanced,
			}
		}
		destination := data.Get(models.DataKeyDestination)
		body := data.Get(models.DataKeyMessage)
		sending := say("Sending SMS to " + destination)
		if data.Get(models.DataKeyIsNumber) == "true" {
			return Turn{
				Next:    models.StateSending,
				Prompt:  sending,
				Effect:  &Effect{Kind: EffectSendMessage, Number: destination, Body: body},
				Outcome: OutcomeAdvanced,
			}
		}
		number, found := resolveContact(ctx, env, destination)
		if !found {
			return Turn{
				Next:    models.StateAskDestination,
				Prompt:  noContact(destination),
				Outcome: OutcomeResolutionFailure,
			}
		}
		return Turn{
			Next:    models.StateSending,
			Prompt:  sending,
			Data:    data.With(models.DataKeyResolvedNumber, number),
			Effect:  &Effect{Kind: EffectSendMessage, Number: number, Body: body},
			Outcome: OutcomeAdvanced,
		}
	}
	return stay(OutcomeAmbiguousInput)
}

func smsComplete(state models.StateType, effect Effect, result EffectResult, data Data) Turn {
	if result.Status != ResultOK {
		return Turn{
			Next:    models.StateFinished,
			Prompt:  say("Failed to send SMS."),
			Outcome: OutcomeActionFailure,
		}
	}
	return Turn{
		Next:    models.StateFinished,
		Prompt:  Prompt{Text: "SMS process finished.", Silent: true},
		Outcome: OutcomeCompleted,
	}
}
