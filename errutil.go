package meshberry

import "go.uber.org/multierr"

// joinErrors aggregates every teardown error encountered during Close,
// rather than reporting only the first one.
func joinErrors(errs []error) error {
	return multierr.Combine(errs...)
}
