// Package index reads and writes the file index kept beside the blobs of
// each hash bucket.
//
// The durable form is a UTF-8 text file with one record per line:
//
//	checksum;filename[;date]
//
// where the optional date is an RFC 3339 timestamp in UTC. There is no
// header and no escaping, so neither field may contain ';' or a newline.
// The index is ordered by Sort; re-encoding an unchanged index produces
// identical bytes.
package index

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

// A Record ties one piece of content to a filename it was published under.
type Record struct {
	Checksum string // hex digest of the content
	Name     string // the logical filename as uploaded. Not unique.

	// Date is the modification time of the original file, in UTC. It is
	// nil for old records which were written before dates were tracked.
	Date *time.Time

	// LocalName is the disambiguated name used when writing the file
	// during a download. It is never encoded.
	LocalName string
}

const separator = ";"

var (
	// ErrCorruptIndex means a line of the index could not be decoded.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrInvalidRecord means a record cannot be encoded without
	// ambiguity, e.g. its filename contains the separator.
	ErrInvalidRecord = errors.New("invalid index record")
)

// A CorruptError describes the offending line of an index which could not
// be decoded. It matches ErrCorruptIndex with errors.Is.
type CorruptError struct {
	Line   int    // 1-based line number
	Text   string // content of the line
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt index at line %d (%s): %q", e.Line, e.Reason, e.Text)
}

// Is reports whether target is ErrCorruptIndex.
func (e *CorruptError) Is(target error) bool {
	return target == ErrCorruptIndex
}

// Decode parses an index. Trailing white space is removed from each line
// and blank lines are ignored. A missing date is kept as nil.
func Decode(r io.Reader) ([]Record, error) {
	var result []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRightFunc(scanner.Text(), unicode.IsSpace)
		if line == "" {
			continue
		}
		rec, reason := decodeLine(line)
		if reason != "" {
			return nil, &CorruptError{Line: lineno, Text: line, Reason: reason}
		}
		result = append(result, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading index")
	}
	return result, nil
}

// decodeLine returns a non-empty reason if the line is malformed.
func decodeLine(line string) (Record, string) {
	var rec Record
	fields := strings.Split(line, separator)
	if len(fields) < 2 || len(fields) > 3 {
		return rec, fmt.Sprintf("expected 2 or 3 fields, found %d", len(fields))
	}
	rec.Checksum = fields[0]
	rec.Name = fields[1]
	if rec.Checksum == "" || rec.Name == "" {
		return rec, "empty checksum or filename"
	}
	if len(fields) == 3 {
		d, err := ParseDate(fields[2])
		if err != nil {
			return rec, "bad date"
		}
		rec.Date = &d
	}
	return rec, ""
}

// ParseDate parses an ISO-8601 timestamp as written in the index. Both the
// "Z" and "+00:00" spellings of UTC are accepted. The result is in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return d, err
	}
	return d.UTC(), nil
}

// FormatDate formats a timestamp the way it is written in the index.
func FormatDate(d time.Time) string {
	return d.UTC().Format(time.RFC3339Nano)
}

// Encode writes the records in the order given. Callers should Sort them
// first.
func Encode(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for i := range records {
		if err := validate(&records[i]); err != nil {
			return err
		}
		bw.WriteString(records[i].Checksum)
		bw.WriteString(separator)
		bw.WriteString(records[i].Name)
		if records[i].Date != nil {
			bw.WriteString(separator)
			bw.WriteString(FormatDate(*records[i].Date))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func validate(rec *Record) error {
	if rec.Checksum == "" || rec.Name == "" {
		return errors.Wrap(ErrInvalidRecord, "empty checksum or filename")
	}
	for _, s := range []string{rec.Checksum, rec.Name} {
		if strings.ContainsAny(s, separator+"\n\r") {
			return errors.Wrapf(ErrInvalidRecord, "%q contains a separator", s)
		}
	}
	// the name ends the line when there is no date
	if rec.Date == nil && strings.TrimRightFunc(rec.Name, unicode.IsSpace) != rec.Name {
		return errors.Wrapf(ErrInvalidRecord, "%q ends in white space", rec.Name)
	}
	return nil
}

// Sort orders records by case-folded filename, then by date (records
// without a date first), then by checksum and exact filename. The last two
// keys make the order total, so the result does not depend on the input
// order.
func Sort(records []Record) {
	fold := cases.Fold()
	keys := make(map[string]string)
	key := func(name string) string {
		k, ok := keys[name]
		if !ok {
			k = fold.String(name)
			keys[name] = k
		}
		return k
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if ka, kb := key(a.Name), key(b.Name); ka != kb {
			return ka < kb
		}
		if c := compareDates(a.Date, b.Date); c != 0 {
			return c < 0
		}
		if a.Checksum != b.Checksum {
			return a.Checksum < b.Checksum
		}
		return a.Name < b.Name
	})
}

func compareDates(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

// Find returns the position of the record with the given checksum and
// filename, or -1 if there is none.
func Find(records []Record, checksum, name string) int {
	for i := range records {
		if records[i].Checksum == checksum && records[i].Name == name {
			return i
		}
	}
	return -1
}

// ResolveLocalNames decides the filename each record is written under when
// downloaded. It must be given the complete record set. A filename used by
// only one record is kept as is. When several records share a filename,
// each of them gets the checksum appended, e.g. "a.txt.<checksum>".
// The result is parallel to records.
func ResolveLocalNames(records []Record) []string {
	count := make(map[string]int)
	for i := range records {
		count[records[i].Name]++
	}
	result := make([]string, len(records))
	for i := range records {
		name := records[i].Name
		if count[name] > 1 {
			name = name + "." + records[i].Checksum
		}
		result[i] = name
	}
	return result
}
