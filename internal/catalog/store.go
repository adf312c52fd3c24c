package catalog

import (
	"database/sql"
	"errors"

	"github.com/tapevault/tapevault/internal/models"
	"github.com/tapevault/tapevault/internal/vaulterrors"
)

// ListVolumeTags returns every tape currently known to the catalog.
func (s *Store) ListVolumeTags() ([]string, error) {
	rows, err := s.db.Query(`SELECT volume_tag FROM tapes`)
	if err != nil {
		return nil, &vaulterrors.CatalogError{Op: "list_volume_tags", Cause: err}
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, &vaulterrors.CatalogError{Op: "list_volume_tags", Cause: err}
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListTapes returns every known tape with its capacity fields, for the
// web view's tape list.
func (s *Store) ListTapes() ([]models.Tape, error) {
	rows, err := s.db.Query(`SELECT volume_tag, last_seen, total_space, free_space FROM tapes ORDER BY volume_tag`)
	if err != nil {
		return nil, &vaulterrors.CatalogError{Op: "list_tapes", Cause: err}
	}
	defer rows.Close()

	var tapes []models.Tape
	for rows.Next() {
		var t models.Tape
		if err := rows.Scan(&t.VolumeTag, &t.LastSeen, &t.TotalSpace, &t.FreeSpace); err != nil {
			return nil, &vaulterrors.CatalogError{Op: "list_tapes", Cause: err}
		}
		tapes = append(tapes, t)
	}
	return tapes, rows.Err()
}

// DropTape deletes the tape row and all of its file rows atomically.
func (s *Store) DropTape(tag string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &vaulterrors.CatalogError{Op: "drop_tape", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files WHERE volume_tag = ?`, tag); err != nil {
		return &vaulterrors.CatalogError{Op: "drop_tape", Cause: err}
	}
	if _, err := tx.Exec(`DELETE FROM tapes WHERE volume_tag = ?`, tag); err != nil {
		return &vaulterrors.CatalogError{Op: "drop_tape", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &vaulterrors.CatalogError{Op: "drop_tape", Cause: err}
	}
	return nil
}

// ReplaceTapeContents deletes all file rows for tag, inserts the new
// entries, and upserts the tape row, all within one transaction. This is
// the only way file rows for a tape are ever written, so a tape's
// contents are always wiped and reinserted as a unit, never merged.
func (s *Store) ReplaceTapeContents(tag string, now, total, free int64, entries []models.FileEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files WHERE volume_tag = ?`, tag); err != nil {
		return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
	}

	stmt, err := tx.Prepare(`INSERT INTO files (volume_tag, path, size, mtime) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(tag, e.Path, e.Size, e.MTime); err != nil {
			return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
		}
	}

	_, err = tx.Exec(`
		INSERT INTO tapes (volume_tag, last_seen, total_space, free_space)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(volume_tag) DO UPDATE SET
			last_seen = excluded.last_seen,
			total_space = excluded.total_space,
			free_space = excluded.free_space
	`, tag, now, total, free)
	if err != nil {
		return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return &vaulterrors.CatalogError{Op: "replace_tape_contents", Cause: err}
	}
	return nil
}

// LookupFile returns the file entry for an exact path match. If more
// than one tape holds the path, any one row may be returned (spec'd
// as "first row wins"; see DESIGN.md for the resolved open question).
func (s *Store) LookupFile(path string) (*models.FileEntry, error) {
	var e models.FileEntry
	e.Path = path
	err := s.db.QueryRow(
		`SELECT volume_tag, size, mtime FROM files WHERE path = ? LIMIT 1`, path,
	).Scan(&e.VolumeTag, &e.Size, &e.MTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &vaulterrors.CatalogError{Op: "lookup_file", Cause: err}
	}
	return &e, nil
}

// VolumeOf is a convenience wrapper over LookupFile.
func (s *Store) VolumeOf(path string) (string, bool, error) {
	e, err := s.LookupFile(path)
	if err != nil {
		return "", false, err
	}
	if e == nil {
		return "", false, nil
	}
	return e.VolumeTag, true, nil
}

// HasChildren reports whether at least one file's path begins with
// prefix + "/". The empty prefix means the tape-root / filesystem root.
func (s *Store) HasChildren(prefix string) (bool, error) {
	lower, upper, hasUpper := childRange(prefix)

	var query string
	var args []interface{}
	if hasUpper {
		query = `SELECT EXISTS(SELECT 1 FROM files WHERE path >= ? AND path < ? LIMIT 1)`
		args = []interface{}{lower, upper}
	} else {
		query = `SELECT EXISTS(SELECT 1 FROM files WHERE path >= ? LIMIT 1)`
		args = []interface{}{lower}
	}

	var exists bool
	if err := s.db.QueryRow(query, args...).Scan(&exists); err != nil {
		return false, &vaulterrors.CatalogError{Op: "has_children", Cause: err}
	}
	return exists, nil
}

// ChildrenUnder returns every path that begins with prefix + "/" (prefix
// empty meaning the root), expressed as a half-open range scan on the
// path index so that lookup stays logarithmic even against a catalog
// with millions of rows, instead of the O(N) LIKE-pattern scan the
// original implementation used.
func (s *Store) ChildrenUnder(prefix string) ([]string, error) {
	lower, upper, hasUpper := childRange(prefix)

	var rows *sql.Rows
	var err error
	if hasUpper {
		rows, err = s.db.Query(`SELECT path FROM files WHERE path >= ? AND path < ? ORDER BY path`, lower, upper)
	} else {
		rows, err = s.db.Query(`SELECT path FROM files WHERE path >= ? ORDER BY path`, lower)
	}
	if err != nil {
		return nil, &vaulterrors.CatalogError{Op: "children_under", Cause: err}
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &vaulterrors.CatalogError{Op: "children_under", Cause: err}
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FilesUnderForTape returns every file entry nested under prefix that
// belongs to tag, for the web view's per-tape browse (the original
// keeps tapes' namespaces separate for browsing even though the live
// mount merges them; see DESIGN.md).
func (s *Store) FilesUnderForTape(tag, prefix string) ([]models.FileEntry, error) {
	lower, upper, hasUpper := childRange(prefix)

	var rows *sql.Rows
	var err error
	if hasUpper {
		rows, err = s.db.Query(`SELECT path, size, mtime FROM files WHERE volume_tag = ? AND path >= ? AND path < ? ORDER BY path`, tag, lower, upper)
	} else {
		rows, err = s.db.Query(`SELECT path, size, mtime FROM files WHERE volume_tag = ? AND path >= ? ORDER BY path`, tag, lower)
	}
	if err != nil {
		return nil, &vaulterrors.CatalogError{Op: "files_under_for_tape", Cause: err}
	}
	defer rows.Close()

	var entries []models.FileEntry
	for rows.Next() {
		e := models.FileEntry{VolumeTag: tag}
		if err := rows.Scan(&e.Path, &e.Size, &e.MTime); err != nil {
			return nil, &vaulterrors.CatalogError{Op: "files_under_for_tape", Cause: err}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalCapacity aggregates total_space and free_space across all tapes.
func (s *Store) TotalCapacity() (totalSum, freeSum int64, err error) {
	err = s.db.QueryRow(`SELECT COALESCE(SUM(total_space), 0), COALESCE(SUM(free_space), 0) FROM tapes`).
		Scan(&totalSum, &freeSum)
	if err != nil {
		return 0, 0, &vaulterrors.CatalogError{Op: "total_capacity", Cause: err}
	}
	return totalSum, freeSum, nil
}

// childRange computes the half-open [lower, upper) range identifying
// every path nested under prefix. An empty prefix matches everything
// (lower = "", no upper bound). A non-empty prefix requires a separator
// before any nested path, so lower = prefix + "/"; upper is the
// lexicographically smallest string greater than every string with that
// lower bound as a prefix, obtained by incrementing the last byte that
// isn't already 0xFF. If every byte is 0xFF, there is no finite upper
// bound and hasUpper is false.
func childRange(prefix string) (lower, upper string, hasUpper bool) {
	if prefix == "" {
		return "", "", false
	}
	lower = prefix + "/"
	b := []byte(lower)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return lower, string(b[:i+1]), true
		}
	}
	return lower, "", false
}
