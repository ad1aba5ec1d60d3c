// Package validate enforces the structural and semantic checks an
// envelope must pass before admission to the queue (spec §4.1).
package validate

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
	"github.com/bobmcallan/robotmw/internal/registry"
)

// commandTypeRe matches the command.type wire contract: two or more
// dot-separated lowercase snake_case segments, e.g. "robot.move",
// "robot.stop".
var commandTypeRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Options toggles semantic checks that depend on runtime state.
type Options struct {
	// StrictTargetCheck rejects envelopes targeting an unregistered
	// robot at intake rather than deferring the ERR_ROBOT_NOT_FOUND to
	// dispatch time. Off in the zero Options; app.New turns it on.
	StrictTargetCheck bool
}

// Validator checks envelopes for structural and semantic correctness.
type Validator struct {
	v    *validator.Validate
	reg  *registry.Registry
	opts Options
}

// New constructs a Validator. reg may be nil if StrictTargetCheck is false.
func New(reg *registry.Registry, opts Options) *Validator {
	return &Validator{v: validator.New(), reg: reg, opts: opts}
}

// Envelope validates env's structure and semantics, returning the first
// violation found as an *apperr.Error with code ERR_VALIDATION, except
// that the strict target check returns the registry's ERR_ROBOT_NOT_FOUND.
func (val *Validator) Envelope(env *models.Envelope) error {
	if err := val.v.Struct(structuralView{
		TraceID: env.TraceID,
		Actor:   env.Actor,
		Command: env.Command,
	}); err != nil {
		return apperr.New(apperr.CodeValidation, "envelope failed structural validation").WithDetail("error", err.Error())
	}

	if !commandTypeRe.MatchString(env.Command.Type) {
		return apperr.New(apperr.CodeValidation, "command.type must be two or more dot-separated lowercase snake_case segments").WithDetail("type", env.Command.Type)
	}

	if env.Command.Priority != "" && !env.Command.Priority.Valid() {
		return apperr.New(apperr.CodeValidation, "command.priority must be one of low, normal, high, urgent").WithDetail("priority", string(env.Command.Priority))
	}

	if env.Command.TimeoutMS != 0 {
		if env.Command.TimeoutMS < models.MinTimeoutMS || env.Command.TimeoutMS > models.MaxTimeoutMS {
			return apperr.New(apperr.CodeValidation, fmt.Sprintf("command.timeout_ms must be between %d and %d", models.MinTimeoutMS, models.MaxTimeoutMS)).
				WithDetail("timeout_ms", env.Command.TimeoutMS)
		}
	}

	if val.opts.StrictTargetCheck && val.reg != nil {
		if _, err := val.reg.Get(env.Command.Target.RobotID); err != nil {
			return err
		}
	}

	return nil
}

// structuralView is the subset of an envelope go-playground/validator
// checks via struct tags; the remaining semantic rules above need
// runtime context the tag-based validator can't express.
type structuralView struct {
	TraceID string             `validate:"required"`
	Actor   models.Actor       `validate:"required"`
	Command models.CommandSpec `validate:"required"`
}
