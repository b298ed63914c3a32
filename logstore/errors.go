/*
Copyright (C) 2023-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package logstore

import (
	"errors"
	"fmt"

	"github.com/launix-de/confluo-sub000/malog"
)

var (
	// ErrInvalidated is returned by Get when the record's INVALID flag is set.
	ErrInvalidated = errors.New("logstore: record invalidated")
	// ErrOutOfSnapshot is returned by Get when the requested id is not below
	// the caller's snapshot boundary.
	ErrOutOfSnapshot = errors.New("logstore: id not visible at this snapshot")
	// ErrNotYetVisible is returned by Get under ReadStalled CC when the
	// WRITTEN flag hasn't appeared before the bounded spin deadline expires.
	ErrNotYetVisible = errors.New("logstore: record not yet visible")
	// ErrArgument is returned for malformed request parameters (oversize
	// payload, zero-length batch, ...).
	ErrArgument = errors.New("logstore: invalid argument")
	// ErrStorage wraps a lower-level malog storage failure.
	ErrStorage = errors.New("logstore: storage error")
)

// translateStorageErr maps malog's sentinel errors onto logstore's, so
// callers never need to import malog just to compare errors.
func translateStorageErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, malog.ErrCapacityExceeded):
		return fmt.Errorf("%w: %v", ErrStorage, err)
	case errors.Is(err, malog.ErrArgumentTooLarge):
		return fmt.Errorf("%w: %v", ErrArgument, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}
