// Package cache exports snapshots of the index to a SQLite database so that
// other tools can query labels, references and the include graph.
package cache

import (
	"database/sql"
	"time"

	_ "embed"

	"github.com/igor-prusov/dts-lsp/internal/depot"

	_ "github.com/mattn/go-sqlite3"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

//go:embed schema.sql
var schemaSQL string

// Snapshot is a consistent-enough copy of every table of the index.
type Snapshot struct {
	Files      []depot.FileInfo
	Labels     []depot.LabelEntry
	References []depot.ReferenceEntry
	Defines    []depot.DefineEntry
}

// Stats counts the rows of the last export.
type Stats struct {
	Files      int
	Loaded     int
	Includes   int
	Labels     int
	References int
	Defines    int
}

// Filecache is an index export backed by a SQLite database.
type Filecache struct {
	db *sql.DB
}

// NewFilecache opens (or creates) the SQLite database at the provided path,
// enables WAL mode and initializes the schema from the embedded file.
func NewFilecache(dbPath string) (*Filecache, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Enable Write-Ahead Logging (WAL)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &Filecache{db: db}, nil
}

func (fc *Filecache) Close() error {
	return fc.db.Close()
}

// withTx is a helper function to execute a function within a transaction.
func (fc *Filecache) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := fc.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Export replaces the stored index with s.
func (fc *Filecache) Export(s Snapshot) error {
	return fc.withTx(func(tx *sql.Tx) error {
		for _, table := range []string{"includes", "refs", "labels", "defines", "files"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return err
			}
		}

		now := time.Now().Unix()
		for _, f := range s.Files {
			if _, err := tx.Exec(
				`INSERT INTO files (uri, loaded, exported_at) VALUES (?, ?, ?)`,
				f.URI, f.HasText, now,
			); err != nil {
				return err
			}
		}
		for _, f := range s.Files {
			for i, target := range f.Includes {
				if _, err := tx.Exec(
					`INSERT INTO includes (source, position, target) VALUES (?, ?, ?)`,
					f.URI, i, target,
				); err != nil {
					return err
				}
			}
		}
		for _, l := range s.Labels {
			if _, err := tx.Exec(`
                INSERT INTO labels (uri, name, start_line, start_char, end_line, end_char)
                VALUES (?, ?, ?, ?, ?, ?)
            `, l.URI, l.Name, l.Range.Start.Line, l.Range.Start.Character, l.Range.End.Line, l.Range.End.Character); err != nil {
				return err
			}
		}
		for _, r := range s.References {
			for _, rg := range r.Ranges {
				if _, err := tx.Exec(`
                    INSERT OR IGNORE INTO refs (uri, name, start_line, start_char, end_line, end_char)
                    VALUES (?, ?, ?, ?, ?, ?)
                `, r.URI, r.Name, rg.Start.Line, rg.Start.Character, rg.End.Line, rg.End.Character); err != nil {
					return err
				}
			}
		}
		for _, d := range s.Defines {
			if _, err := tx.Exec(`
                INSERT INTO defines (uri, name, value, start_line, start_char, end_line, end_char)
                VALUES (?, ?, ?, ?, ?, ?, ?)
            `, d.URI, d.Name, d.Value, d.Range.Start.Line, d.Range.Start.Character, d.Range.End.Line, d.Range.End.Character); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats counts what the database currently holds.
func (fc *Filecache) Stats() (Stats, error) {
	var s Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM files`, &s.Files},
		{`SELECT COUNT(*) FROM files WHERE loaded = 1`, &s.Loaded},
		{`SELECT COUNT(*) FROM includes`, &s.Includes},
		{`SELECT COUNT(*) FROM labels`, &s.Labels},
		{`SELECT COUNT(*) FROM refs`, &s.References},
		{`SELECT COUNT(*) FROM defines`, &s.Defines},
	}
	for _, c := range counts {
		if err := fc.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

// getSymbols is a helper function to retrieve symbol rows from the database.
func (fc *Filecache) getSymbols(query string, args ...interface{}) ([]depot.Symbol, error) {
	rows, err := fc.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []depot.Symbol
	for rows.Next() {
		var s depot.Symbol
		r := &s.Range
		if err := rows.Scan(&s.URI, &r.Start.Line, &r.Start.Character, &r.End.Line, &r.End.Character); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// Labels returns every exported definition of the label name.
func (fc *Filecache) Labels(name string) ([]depot.Symbol, error) {
	return fc.getSymbols(`
        SELECT uri, start_line, start_char, end_line, end_char
        FROM labels WHERE name = ? ORDER BY uri
    `, name)
}

// References returns every exported reference to the label name.
func (fc *Filecache) References(name string) ([]depot.Symbol, error) {
	return fc.getSymbols(`
        SELECT uri, start_line, start_char, end_line, end_char
        FROM refs WHERE name = ? ORDER BY uri, start_line, start_char
    `, name)
}

// IncludedBy returns the files that include target.
func (fc *Filecache) IncludedBy(target protocol.DocumentUri) ([]protocol.DocumentUri, error) {
	rows, err := fc.db.Query(`SELECT source FROM includes WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []protocol.DocumentUri
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
