package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Columns of a guest list file. first_name and last_name are required; the rest
// may be omitted.
const (
	colFirstName        = "first_name"
	colLastName         = "last_name"
	colEmail            = "email"
	colPlusOneAllowed   = "plus_one_allowed"
	colPartnerFirstName = "partner_first_name"
	colPartnerLastName  = "partner_last_name"
)

// Row is one guest from the file. Line is the 1-based line in the source.
type Row struct {
	Line             int
	FirstName        string
	LastName         string
	Email            string
	PlusOneAllowed   bool
	PartnerFirstName string
	PartnerLastName  string
}

// HasPartner reports whether the row names a partner.
func (r Row) HasPartner() bool {
	return r.PartnerFirstName != "" || r.PartnerLastName != ""
}

// RowError describes a row that could not be applied.
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Parse reads a guest list. A malformed header fails the whole file; a malformed
// row is reported and skipped.
func Parse(src io.Reader) ([]Row, []RowError, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("guest list is empty")
		}
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	for _, required := range []string{colFirstName, colLastName} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("header is missing column %q", required)
		}
	}

	var rows []Row
	var rowErrs []RowError
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErrs = append(rowErrs, RowError{Line: parseErr.Line, Message: parseErr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("failed to read guest list: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if blank(record) {
			continue
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		row := Row{
			Line:             line,
			FirstName:        get(colFirstName),
			LastName:         get(colLastName),
			Email:            get(colEmail),
			PartnerFirstName: get(colPartnerFirstName),
			PartnerLastName:  get(colPartnerLastName),
		}
		allowed, ok := parseBool(get(colPlusOneAllowed))
		if !ok {
			rowErrs = append(rowErrs, RowError{Line: line, Field: colPlusOneAllowed, Message: "must be true or false"})
			continue
		}
		row.PlusOneAllowed = allowed
		if row.HasPartner() && (row.PartnerFirstName == "" || row.PartnerLastName == "") {
			rowErrs = append(rowErrs, RowError{Line: line, Field: colPartnerLastName, Message: "partner needs both a first and last name"})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "":
		return false, true
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	b, err := strconv.ParseBool(v)
	return b, err == nil
}
