package scheduler

import (
	"github.com/genricoloni/cadence/internal/domain"
	"github.com/samber/lo"
)

// NoTime marks a registration without a pending target, and cancels an engine wake
const NoTime int64 = -1

// Registration is one listener's request for media-time notifications
type Registration struct {
	Listener domain.MediaTimeListener
	TargetUs int64
	// Continuous registrations survive firing; one-shot ones are removed
	Continuous bool
}

// Registry is an ordered collection of registrations keyed by listener identity.
// It has no locking; the scheduler only touches it from its serial context.
type Registry struct {
	regs []Registration
}

// Upsert adds the listener or updates its existing registration in place.
func (r *Registry) Upsert(l domain.MediaTimeListener, targetUs int64, continuous bool) {
	if _, i, ok := r.find(l); ok {
		r.regs[i].TargetUs = targetUs
		r.regs[i].Continuous = continuous
		return
	}
	r.regs = append(r.regs, Registration{Listener: l, TargetUs: targetUs, Continuous: continuous})
}

// Remove deletes the listener's registration, keeping the order of the others.
func (r *Registry) Remove(l domain.MediaTimeListener) bool {
	_, i, ok := r.find(l)
	if !ok {
		return false
	}
	r.regs = append(r.regs[:i], r.regs[i+1:]...)
	return true
}

// Get returns the listener's registration.
func (r *Registry) Get(l domain.MediaTimeListener) (Registration, bool) {
	reg, _, ok := r.find(l)
	return reg, ok
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.regs)
}

// Listeners returns a snapshot of the registered listeners in registration order.
func (r *Registry) Listeners() []domain.MediaTimeListener {
	return lo.Map(r.regs, func(reg Registration, _ int) domain.MediaTimeListener {
		return reg.Listener
	})
}

// Due partitions the registrations at nowUs. Registrations whose target is within
// toleranceUs of now are returned in registration order; one-shot ones are removed
// and continuous ones have their target cleared. nextUs is the earliest remaining target.
func (r *Registry) Due(nowUs, toleranceUs int64) (due []Registration, nextUs int64, hasNext bool) {
	kept := r.regs[:0]
	for _, reg := range r.regs {
		switch {
		case reg.TargetUs == NoTime:
			kept = append(kept, reg)
		case reg.TargetUs <= nowUs+toleranceUs:
			due = append(due, reg)
			if reg.Continuous {
				reg.TargetUs = NoTime
				kept = append(kept, reg)
			}
		default:
			if !hasNext || reg.TargetUs < nextUs {
				nextUs = reg.TargetUs
				hasNext = true
			}
			kept = append(kept, reg)
		}
	}
	clear(r.regs[len(kept):])
	r.regs = kept
	return due, nextUs, hasNext
}

// DropSatisfied removes one-shot registrations whose target is at or before posUs.
func (r *Registry) DropSatisfied(posUs int64) int {
	before := len(r.regs)
	r.regs = lo.Reject(r.regs, func(reg Registration, _ int) bool {
		return !reg.Continuous && reg.TargetUs != NoTime && reg.TargetUs <= posUs
	})
	return before - len(r.regs)
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.regs = nil
}

func (r *Registry) find(l domain.MediaTimeListener) (Registration, int, bool) {
	return lo.FindIndexOf(r.regs, func(reg Registration) bool {
		return reg.Listener == l
	})
}
