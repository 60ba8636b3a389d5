package treestore

import (
	"errors"
	"fmt"
	"io"

	"github.com/aalhour/treekv/internal/batch"
	"github.com/aalhour/treekv/internal/logging"
	"github.com/aalhour/treekv/internal/record"
)

// replay rebuilds the latest Version from the commit log and returns the
// offset at which new records must be appended.
func (s *Store) replay(logPath string) (*Version, int64, error) {
	v := newVersion()
	if !s.fs.Exists(logPath) {
		return v, 0, nil
	}

	f, err := s.fs.Open(logPath)
	if err != nil {
		return nil, 0, fmt.Errorf("treestore: open commit log: %w", err)
	}

	r := record.NewReader(f)
	var (
		records int
		end     int64
		damage  error
	)
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			var nv *Version
			nv, err = applyRecord(v, rec)
			if err == nil {
				v = nv
				records++
				end = r.LastRecordEnd()
				continue
			}
		}
		if !isLogDamage(err) {
			_ = f.Close()
			return nil, 0, fmt.Errorf("treestore: read commit log: %w", err)
		}
		damage = err
		break
	}
	if err := f.Close(); err != nil {
		return nil, 0, fmt.Errorf("treestore: close commit log: %w", err)
	}

	if damage == nil {
		s.logger.Debugf(logging.NSRecovery+"replayed %d records from %s", records, logPath)
		return v, end, nil
	}

	torn := errors.Is(damage, record.ErrUnexpectedEOF)
	if s.opts.ParanoidChecks && !torn {
		return nil, 0, fmt.Errorf("%w: %s at offset %d: %v", ErrCorruption, logPath, end, damage)
	}
	s.logger.Warnf(logging.NSRecovery+"truncating commit log %s at offset %d after %d records: %v", logPath, end, records, damage)
	if err := s.fs.Truncate(logPath, end); err != nil {
		return nil, 0, fmt.Errorf("treestore: truncate commit log: %w", err)
	}
	return v, end, nil
}

func isLogDamage(err error) bool {
	return errors.Is(err, record.ErrCorruptedRecord) ||
		errors.Is(err, record.ErrUnexpectedEOF) ||
		errors.Is(err, record.ErrFragmentOrder) ||
		errors.Is(err, batch.ErrCorrupted) ||
		errors.Is(err, batch.ErrTooSmall) ||
		errors.Is(err, ErrUnknownTree) ||
		errors.Is(err, errBadRecord)
}
