package store

import (
	"io/fs"
	"path/filepath"

	"chatwire/pkg/models"
)

// Stats is a compact view of store contents for the admin surface.
type Stats struct {
	DiskBytes uint64         `json:"disk_bytes"`
	Sessions  map[string]int `json:"sessions"`
	Messages  int64          `json:"messages"`
}

// GetStats returns best-effort store statistics: on-disk size of the DB
// directory, session counts by status and the total message count (sum of
// per-session last seqs).
func GetStats() (Stats, error) {
	st := Stats{Sessions: map[string]int{}}
	if db == nil {
		return st, nil
	}
	if dbPath != "" {
		var total uint64
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				total += uint64(fi.Size())
			}
			return nil
		})
		st.DiskBytes = total
	}
	sessions, err := ListSessions()
	if err != nil {
		return st, err
	}
	for i := range sessions {
		s := &sessions[i]
		status := s.Status
		if !models.ValidStatus(status) {
			status = "unknown"
		}
		st.Sessions[status]++
		st.Messages += s.LastSeq
	}
	return st, nil
}
