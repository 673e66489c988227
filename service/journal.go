package service

import (
	"strata/domain/model"
	"strata/infra/wal"
)

// journalCommit appends one record per node a commit touched. Nodes added
// by the commit get a Set record of their own so replay can rebuild them.
func (s *ModelService) journalCommit(c model.Commit) {
	for _, ch := range c.Changes {
		s.journalSet(c.Seq, ch.Node.Path(), ch.Serial, ch.Value)
		for _, a := range ch.Added {
			v, serial := model.LoadAny(a)
			s.journalSet(c.Seq, a.Path(), serial, v)
		}
		for _, r := range ch.Removed {
			s.journalAppend(wal.NewRecord(wal.RecordRemove, c.Seq, ch.Serial, r.Path(), nil))
		}
	}
}

func (s *ModelService) journalSet(seq uint64, p string, serial uint64, v any) {
	data, err := MarshalValue(v)
	if err != nil {
		s.journalFailures.Add(1)
		s.log.Error().Err(err).Str("path", p).Msg("journal encode failed")
		return
	}
	s.journalAppend(wal.NewRecord(wal.RecordSet, seq, serial, p, data))
}

func (s *ModelService) journalAppend(r *wal.Record) {
	if err := s.journal.Append(r); err != nil {
		s.journalFailures.Add(1)
		s.log.Error().
			Err(err).
			Uint64("seq", r.Seq).
			Str("path", r.Path).
			Msg("journal append failed")
	}
}
