package session

import "github.com/rs/zerolog"

type release struct {
	name string
	fn   func() error
}

// releaseStack records how to undo each acquired resource. unwind runs the
// entries in reverse order exactly once.
type releaseStack struct {
	entries []release
}

func (r *releaseStack) push(name string, fn func() error) {
	r.entries = append(r.entries, release{name: name, fn: fn})
}

// unwind releases everything, logging failures and carrying on.
func (r *releaseStack) unwind(log *zerolog.Logger) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		r.entries[i] = release{}
		r.entries = r.entries[:i]
		if err := e.fn(); err != nil {
			log.Warn().Err(err).Str("step", e.name).Msg("Teardown step failed")
			continue
		}
		log.Debug().Str("step", e.name).Msg("Released")
	}
}

func (r *releaseStack) names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}
