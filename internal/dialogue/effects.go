package dialogue

import (
	"context"
	"log/slog"

	"github.com/projectech/VoiceGuide/internal/flow"
	"github.com/projectech/VoiceGuide/internal/models"
)

// perform runs one effect against the gateway. It runs off the engine loop.
func (e *Engine) perform(ctx context.Context, effect flow.Effect) flow.EffectResult {
	if e.gateway == nil {
		slog.Error("Engine.perform: no action gateway configured", "session", e.session.ID, "effect", effect.Kind)
		return flow.EffectResult{Status: flow.ResultUnavailable}
	}

	switch effect.Kind {
	case flow.EffectPlaceCall:
		return e.dispatch(ctx, effect, func() error {
			return e.gateway.PlaceCall(ctx, effect.Number)
		}, "")

	case flow.EffectSendMessage:
		return e.dispatch(ctx, effect, func() error {
			return e.gateway.SendMessage(ctx, effect.Number, effect.Body)
		}, "")

	case flow.EffectShareLocation:
		here, status := e.locate(ctx)
		if status != flow.ResultOK {
			return flow.EffectResult{Status: status}
		}
		link := here.MapsLink()
		return e.dispatch(ctx, effect, func() error {
			return e.gateway.SendMessage(ctx, effect.Number, link)
		}, link)

	case flow.EffectDescribeLocation:
		here, status := e.locate(ctx)
		if status != flow.ResultOK {
			return flow.EffectResult{Status: status}
		}
		description, err := e.gateway.DescribeLocation(ctx, here)
		if err != nil {
			slog.Warn("Engine.perform: reverse geocoding failed", "session", e.session.ID, "error", err)
			return flow.EffectResult{Status: flow.ResultUnavailable}
		}
		return flow.EffectResult{Status: flow.ResultOK, Detail: description}

	case flow.EffectNavigate:
		if _, status := e.locate(ctx); status != flow.ResultOK {
			return flow.EffectResult{Status: flow.ResultNotFound}
		}
		return e.dispatch(ctx, effect, func() error {
			return e.gateway.LaunchNavigation(ctx, effect.Target)
		}, effect.Target.NavigationURI())
	}

	slog.Error("Engine.perform: unknown effect", "session", e.session.ID, "effect", effect.Kind)
	return flow.EffectResult{Status: flow.ResultFailed}
}

// locate asks the gateway for a position fix.
func (e *Engine) locate(ctx context.Context) (models.Coordinates, flow.ResultStatus) {
	here, found, err := e.gateway.CurrentLocation(ctx)
	switch {
	case err != nil:
		slog.Warn("Engine.locate: location lookup failed", "session", e.session.ID, "error", err)
		return models.Coordinates{}, flow.ResultNotFound
	case !found:
		slog.Info("Engine.locate: no location fix available", "session", e.session.ID)
		return models.Coordinates{}, flow.ResultNotFound
	}
	return here, flow.ResultOK
}

// dispatch claims the session's one-shot token and runs the action. A session
// that is cancelled or has already dispatched never reaches the gateway.
func (e *Engine) dispatch(ctx context.Context, effect flow.Effect, action func() error, detail string) flow.EffectResult {
	s := e.session
	if s.cancelled.Load() || ctx.Err() != nil {
		slog.Info("Engine.dispatch: session cancelled, not dispatching", "session", s.ID, "effect", effect.Kind)
		return flow.EffectResult{Status: flow.ResultFailed}
	}
	if !s.dispatched.CompareAndSwap(false, true) {
		slog.Error("Engine.dispatch: action already dispatched for this session", "session", s.ID, "effect", effect.Kind)
		return flow.EffectResult{Status: flow.ResultFailed}
	}
	slog.Info("Engine.dispatch: dispatching action", "session", s.ID, "effect", effect.Kind, "to", effect.Number)
	if err := action(); err != nil {
		slog.Error("Engine.dispatch: action failed", "session", s.ID, "effect", effect.Kind, "error", err)
		return flow.EffectResult{Status: flow.ResultFailed, Detail: detail}
	}
	return flow.EffectResult{Status: flow.ResultOK, Detail: detail}
}

// Dispatched reports whether the session has used its one-shot action token.
func (e *Engine) Dispatched() bool {
	return e.session.dispatched.Load()
}
