package state

// changeLog is the bounded, oldest-first list of records for one session.
type changeLog struct {
	records []ChangeRecord
	limit   int
}

func newChangeLog(limit int) *changeLog {
	return &changeLog{limit: limit}
}

func (l *changeLog) append(record ChangeRecord) {
	l.records = append(l.records, record)
	if over := len(l.records) - l.limit; over > 0 {
		// Drop the evicted prefix without keeping it reachable.
		kept := make([]ChangeRecord, l.limit)
		copy(kept, l.records[over:])
		l.records = kept
	}
}

// since returns the records committed after version, and false when
// version is not retained.
func (l *changeLog) since(version Version) ([]ChangeRecord, bool) {
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Version == version {
			return l.records[i+1:], true
		}
	}
	return nil, false
}

func (l *changeLog) snapshot() []ChangeRecord {
	out := make([]ChangeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// between returns the records that lead from version from to version to.
// It reports false when from is not retained or when the retained records do
// not form an unbroken parent chain ending at to, which happens when another
// instance committed in between.
func (l *changeLog) between(from, to Version) ([]ChangeRecord, bool) {
	records, ok := l.since(from)
	if !ok {
		return nil, false
	}
	parent := from
	for _, record := range records {
		if record.Parent != parent {
			return nil, false
		}
		parent = record.Version
	}
	return records, parent == to
}
