package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/projectech/VoiceGuide/internal/models"
	"github.com/projectech/VoiceGuide/internal/phrase"
)

// NavigationFlow starts walking navigation to one of the saved destinations.
// With no saved destinations it ends immediately with guidance.
func NavigationFlow() *Definition {
	return &Definition{
		Type:    models.FlowTypeNavigation,
		Initial: models.StateChooseDestination,
		States: map[models.StateType]StateSpec{
			models.StateNoSavedDestinations: {Kind: KindTerminal},
			models.StateChooseDestination: {
				Kind: KindAsking,
				Entry: func(d Data) Prompt {
					return whereTo(d.Get(models.DataKeySavedNames))
				},
				Retry: func(d Data) Prompt {
					return sayAgain(d.Get(models.DataKeySavedNames))
				},
			},
			models.StateConfirmDestination: {
				Kind: KindAsking,
				Entry: func(d Data) Prompt {
					return confirmDestination(d.Get(models.DataKeyPlace))
				},
			},
			models.StateGetDirections: {Kind: KindAwaiting},
			models.StateFinished:      {Kind: KindTerminal},
		},
		Begin:    navigationBegin,
		Step:     navigationStep,
		Complete: navigationComplete,
	}
}

func noSavedDestinations() Prompt {
	return say("No saved address found. Please add new addresses from Saved Addresses.")
}

func whereTo(saved string) Prompt {
	return say("Where do you want to go? Your saved addresses are " + saved + ".")
}

func sayAgain(saved string) Prompt {
	return say("Please say the destination name again. Your saved addresses are: " + saved + ".")
}

func confirmDestination(name string) Prompt {
	return sayAs("You chose "+name+". Is that correct? Please say yes or no.",
		"You chose "+name+". Is that correct? Please say yes or no")
}

// savedNames lists the saved destinations. A failing store reads as empty.
func savedNames(ctx context.Context, env Env) []string {
	if env.Places == nil {
		return nil
	}
	names, err := env.Places.ListNames(ctx)
	if err != nil {
		slog.Warn("flow.savedNames: failed to list destinations", "error", err)
		return nil
	}
	return names
}

func navigationBegin(ctx context.Context, env Env) Turn {
	names := savedNames(ctx, env)
	if len(names) == 0 {
		return Turn{
			Next:    models.StateNoSavedDestinations,
			Prompt:  noSavedDestinations(),
			Data:    Data{},
			Outcome: OutcomeResolutionFailure,
		}
	}
	spoken := phrase.JoinNames(names)
	return Turn{
		Next:    models.StateChooseDestination,
		Prompt:  whereTo(spoken),
		Data:    Data{models.DataKeySavedNames: spoken},
		Outcome: OutcomeAdvanced,
	}
}

func navigationStep(ctx context.Context, env Env, state models.StateType, text string, data Data) Turn {
	switch state {
	case models.StateChooseDestination:
		names := savedNames(ctx, env)
		if len(names) == 0 {
			return Turn{
				Next:    models.StateNoSavedDestinations,
				Prompt:  noSavedDestinations(),
				Outcome: OutcomeResolutionFailure,
			}
		}
		spoken := phrase.JoinNames(names)
		requested := strings.TrimSpace(text)
		match, ok := phrase.FindCaseInsensitive(requested, names)
		if !ok {
			return Turn{
				Next: models.StateChooseDestination,
				Prompt: say("No saved destination found for " + requested + ". Your saved addresses are " +
					spoken + "."),
				Data:    data.With(models.DataKeySavedNames, spoken),
				Outcome: OutcomeResolutionFailure,
			}
		}
		return Turn{
			Next:    models.StateConfirmDestination,
			Prompt:  confirmDestination(match),
			Data:    data.With(models.DataKeyPlace, match).With(models.DataKeySavedNames, spoken),
			Outcome: OutcomeAdvanced,
		}

	case models.StateConfirmDestination:
		if !phrase.IsAffirmative(text) {
			return Turn{
				Next:    models.StateChooseDestination,
				Prompt:  sayAgain(data.Get(models.DataKeySavedNames)),
				Outcome: OutcomeAdvanced,
			}
		}
		name := data.Get(models.DataKeyPlace)
		target, found := lookupPlace(ctx, env, name)
		if !found {
			return Turn{
				Next:    models.StateFinished,
				Prompt:  say("Saved destination coordinates not found."),
				Outcome: OutcomeResolutionFailure,
			}
		}
		return Turn{
			Next:   models.StateGetDirections,
			Prompt: sayAs("Getting directions to "+name+"...", "Getting directions to "+name),
			Data: data.
				With(models.DataKeyLatitude, strconv.FormatFloat(target.Latitude, 'f', -1, 64)).
				With(models.DataKeyLongitude, strconv.FormatFloat(target.Longitude, 'f', -1, 64)),
			Effect:  &Effect{Kind: EffectNavigate, Target: target},
			Outcome: OutcomeAdvanced,
		}
	}
	return stay(OutcomeAmbiguousInput)
}

func lookupPlace(ctx context.Context, env Env, name string) (models.Coordinates, bool) {
	if env.Places == nil {
		return models.Coordinates{}, false
	}
	target, found, err := env.Places.Get(ctx, name)
	if err != nil {
		slog.Warn("flow.lookupPlace: failed to read destination", "name", name, "error", err)
		return models.Coordinates{}, false
	}
	return target, found
}

func navigationComplete(state models.StateType, effect Effect, result EffectResult, data Data) Turn {
	switch result.Status {
	case ResultOK:
		return Turn{Next: models.StateFinished, Prompt: say("Launching maps for navigation."), Outcome: OutcomeCompleted}
	case ResultNotFound:
		return Turn{Next: models.StateFinished, Prompt: say("Unable to retrieve your current location."), Outcome: OutcomeActionFailure}
	default:
		return Turn{Next: models.StateFinished, Prompt: say("Maps navigation is not available."), Outcome: OutcomeActionFailure}
	}
}
