package index

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func date(s string) *time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return &d
}

func TestDecode(t *testing.T) {
	const input = "abc;a.txt;2021-03-04T05:06:07+00:00\n" +
		"\n" +
		"def;b.txt\r\n" +
		"123;c.txt;2020-01-01T12:00:00.0Z\n" +
		"456;d.txt \t\n" +
		"   \n" +
		"789; e.txt ;2020-01-01T12:00:00Z  \n"
	records, err := Decode(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	goal := []Record{
		{Checksum: "abc", Name: "a.txt", Date: date("2021-03-04T05:06:07Z")},
		{Checksum: "def", Name: "b.txt"},
		{Checksum: "123", Name: "c.txt", Date: date("2020-01-01T12:00:00Z")},
		{Checksum: "456", Name: "d.txt"},
		{Checksum: "789", Name: " e.txt ", Date: date("2020-01-01T12:00:00Z")},
	}
	if !reflect.DeepEqual(records, goal) {
		t.Errorf("Got %v, expected %v", records, goal)
	}
	if records[0].Date.Location() != time.UTC {
		t.Errorf("date not in UTC: %v", records[0].Date)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	var table = []struct {
		input string
		line  int
	}{
		{"abc\n", 1},
		{"abc;a.txt\nabc;a.txt;2020-01-01;extra\n", 2},
		{"abc;a.txt;yesterday\n", 1},
		{"abc;a.txt\n\n;b.txt\n", 3},
		{"abc;;2020-01-01T00:00:00Z\n", 1},
	}
	for _, tab := range table {
		_, err := Decode(strings.NewReader(tab.input))
		if !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("%q: Got %v, expected ErrCorruptIndex", tab.input, err)
			continue
		}
		var ce *CorruptError
		if !errors.As(err, &ce) {
			t.Errorf("%q: error is not a CorruptError", tab.input)
			continue
		}
		if ce.Line != tab.line {
			t.Errorf("%q: Got line %d, expected %d", tab.input, ce.Line, tab.line)
		}
	}
}

func TestDecodeEmpty(t *testing.T) {
	records, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("Got %v, expected nothing", records)
	}
}

func TestEncode(t *testing.T) {
	records := []Record{
		{Checksum: "abc", Name: "a.txt", Date: date("2021-03-04T05:06:07.5+00:00")},
		{Checksum: "def", Name: "b.txt", LocalName: "ignored"},
	}
	var buf bytes.Buffer
	err := Encode(&buf, records)
	if err != nil {
		t.Fatal(err)
	}
	const goal = "abc;a.txt;2021-03-04T05:06:07.5Z\ndef;b.txt\n"
	if buf.String() != goal {
		t.Errorf("Got %q, expected %q", buf.String(), goal)
	}
}

func TestEncodeInvalid(t *testing.T) {
	var table = []Record{
		{Checksum: "abc", Name: "a;b.txt"},
		{Checksum: "abc", Name: "a\nb.txt"},
		{Checksum: "", Name: "a.txt"},
		{Checksum: "abc", Name: ""},
		{Checksum: "abc", Name: "a.txt "},
	}
	for _, rec := range table {
		err := Encode(&bytes.Buffer{}, []Record{rec})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("%#v: Got %v, expected ErrInvalidRecord", rec, err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	records := []Record{
		{Checksum: "0a", Name: "Alpha.txt", Date: date("2019-05-01T00:00:00Z")},
		{Checksum: "0b", Name: "alpha.txt", Date: date("2019-05-02T00:00:00.123456789Z")},
		{Checksum: "0c", Name: "beta.bin", Date: date("2022-12-31T23:59:59Z")},
	}
	Sort(records)
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		t.Fatal(err)
	}
	first := buf.String()
	decoded, err := Decode(strings.NewReader(first))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decoded, records) {
		t.Errorf("Got %v, expected %v", decoded, records)
	}

	// sorting and encoding again must give the same bytes
	Sort(decoded)
	buf.Reset()
	Encode(&buf, decoded)
	if buf.String() != first {
		t.Errorf("Got %q, expected %q", buf.String(), first)
	}
}

func TestSort(t *testing.T) {
	records := []Record{
		{Checksum: "c2", Name: "report.csv", Date: date("2021-01-01T00:00:00Z")},
		{Checksum: "zz", Name: "B.txt"},
		{Checksum: "c1", Name: "report.csv", Date: date("2020-01-01T00:00:00Z")},
		{Checksum: "aa", Name: "a.txt", Date: date("2020-01-01T00:00:00Z")},
		{Checksum: "c0", Name: "report.csv"},
		{Checksum: "ab", Name: "A.txt", Date: date("2020-01-01T00:00:00Z")},
	}
	goal := []string{"aa", "ab", "zz", "c0", "c1", "c2"}

	// every rotation of the input must sort to the same order
	for shift := 0; shift < len(records); shift++ {
		input := append(append([]Record{}, records[shift:]...), records[:shift]...)
		Sort(input)
		var result []string
		for _, r := range input {
			result = append(result, r.Checksum)
		}
		if !reflect.DeepEqual(result, goal) {
			t.Errorf("shift %d: Got %v, expected %v", shift, result, goal)
		}
	}
}

func TestFind(t *testing.T) {
	records := []Record{
		{Checksum: "aa", Name: "a.txt"},
		{Checksum: "aa", Name: "b.txt"},
	}
	if i := Find(records, "aa", "b.txt"); i != 1 {
		t.Errorf("Got %d, expected 1", i)
	}
	if i := Find(records, "bb", "a.txt"); i != -1 {
		t.Errorf("Got %d, expected -1", i)
	}
}

func TestResolveLocalNames(t *testing.T) {
	records := []Record{{Checksum: "X", Name: "a.txt"}}
	names := ResolveLocalNames(records)
	if !reflect.DeepEqual(names, []string{"a.txt"}) {
		t.Errorf("Got %v, expected [a.txt]", names)
	}

	records = append(records, Record{Checksum: "Y", Name: "a.txt"})
	names = ResolveLocalNames(records)
	if !reflect.DeepEqual(names, []string{"a.txt.X", "a.txt.Y"}) {
		t.Errorf("Got %v, expected [a.txt.X a.txt.Y]", names)
	}

	// same content under two names needs no suffix
	records = []Record{
		{Checksum: "X", Name: "a.txt"},
		{Checksum: "X", Name: "b.txt"},
		{Checksum: "Y", Name: "b.txt"},
	}
	names = ResolveLocalNames(records)
	goal := []string{"a.txt", "b.txt.X", "b.txt.Y"}
	if !reflect.DeepEqual(names, goal) {
		t.Errorf("Got %v, expected %v", names, goal)
	}
}
