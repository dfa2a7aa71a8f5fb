package engram

import "errors"

// Close stops the background sweeper and releases the backend and, when
// the store owns it, the audit sink. Safe to call multiple times; the
// first result is returned on repeat calls.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.sweeper.Stop()

		errs := []error{s.be.Close()}
		if s.ownsAudit {
			errs = append(errs, s.auditLog.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
