// Package recipient loads mail-merge recipients from a CSV file.
//
// The file starts with a header row that is always discarded. Every following
// row must carry at least four columns: name, email, subject and body. Extra
// columns are ignored. Rows with missing fields or an invalid address are
// skipped and reported; they never abort the load.
package recipient

import (
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shineum/smtp-mailmerge/internal/runerr"
	"github.com/shineum/smtp-mailmerge/internal/validate"
)

// requiredFields is the number of leading columns every row must provide.
const requiredFields = 4

// Record is one validated recipient row.
type Record struct {
	Name    string
	Email   string
	Subject string
	Body    string

	// Line is the 1-based line in the source file where the row starts.
	Line int
}

// Result holds the accepted records and a recoverable error for every
// skipped row, both in file order.
type Result struct {
	Records []Record
	Skipped []*runerr.Error
}

// Loader reads recipient files.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader that reports skipped rows to logger.
// A nil logger falls back to slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads the recipients in path using the default logger.
func Load(path string) (*Result, error) {
	return NewLoader(nil).Load(path)
}

// Load reads the recipients in path. It fails only when the file itself is
// unusable: missing, not named *.csv, unreadable.
func (l *Loader) Load(path string) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, runerr.Fatalf(runerr.KindInput, nil, "%s does not exist", path)
		}
		return nil, runerr.Fatalf(runerr.KindInput, err, "cannot access %s", path)
	}
	if !strings.HasSuffix(path, ".csv") {
		return nil, runerr.Fatalf(runerr.KindInput, nil, "%s is not a CSV file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, runerr.Fatalf(runerr.KindInput, err, "cannot open %s", path)
	}
	defer f.Close()

	return l.read(path, f)
}

func (l *Loader) read(path string, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	result := &Result{}

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			l.logger.Warn("recipient file is empty", "file", path)
			return result, nil
		}
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			return nil, runerr.Fatalf(runerr.KindInput, err, "cannot read %s", path)
		}
		// A malformed header is still just a header.
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				l.skip(result, runerr.Recoverablef(runerr.KindInput, err,
					"malformed row at line %d, email will not be created", parseErr.StartLine))
				continue
			}
			return nil, runerr.Fatalf(runerr.KindInput, err, "cannot read %s", path)
		}

		line, _ := reader.FieldPos(0)

		if len(row) < requiredFields {
			l.skip(result, runerr.Recoverablef(runerr.KindInput, nil,
				"missing information in row at line %d, email will not be created", line))
			continue
		}

		rec := Record{
			Name:    strings.TrimSpace(row[0]),
			Email:   strings.TrimSpace(row[1]),
			Subject: strings.TrimSpace(row[2]),
			Body:    strings.TrimSpace(row[3]),
			Line:    line,
		}

		if !validate.IsValidEmailAddress(rec.Email) {
			l.skip(result, runerr.Recoverablef(runerr.KindInput, nil,
				"%q in row at line %d is not in the correct format for an email address, email will not be created",
				rec.Email, line))
			continue
		}

		result.Records = append(result.Records, rec)
	}

	l.logger.Info("loaded recipients",
		"file", path,
		"accepted", len(result.Records),
		"skipped", len(result.Skipped),
	)

	return result, nil
}

func (l *Loader) skip(result *Result, err *runerr.Error) {
	result.Skipped = append(result.Skipped, err)
	l.logger.Warn(err.Error())
}
