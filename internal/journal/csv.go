package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Header is the CSV header of a period's flow journal.
const Header = "entry_id,period,kind,subject,agent,class,amount,source"

const (
	numFields  = 8
	colEntryID = 0
	colPeriod  = 1
	colKind    = 2
	colSubject = 3
	colAgent   = 4
	colClass   = 5
	colAmount  = 6
	colSource  = 7
)

// ReadPostings reads all postings from a flow journal reader.
func ReadPostings(r io.Reader) ([]model.Posting, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading journal CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var postings []model.Posting
	for i, rec := range records[1:] {
		p, err := UnmarshalPosting(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		postings = append(postings, p)
	}
	return postings, nil
}

// WritePostings writes postings including the header.
func WritePostings(w io.Writer, postings []model.Posting) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, p := range postings {
		if err := cw.Write(MarshalPosting(p)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendPostings appends postings to an existing journal (no header).
func AppendPostings(w io.Writer, postings []model.Posting) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	for i, p := range postings {
		if err := cw.Write(MarshalPosting(p)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalPosting converts a Posting to a CSV row.
func MarshalPosting(p model.Posting) []string {
	row := make([]string, numFields)
	row[colEntryID] = p.EntryID
	row[colPeriod] = strconv.Itoa(p.Period)
	if text, err := p.Kind.MarshalText(); err == nil {
		row[colKind] = string(text)
	}
	row[colSubject] = p.Subject
	row[colAgent] = p.Agent.Name
	row[colClass] = p.Agent.Class
	row[colAmount] = p.Amount.String()
	row[colSource] = string(p.Source)
	return row
}

// UnmarshalPosting converts a CSV row to a Posting.
func UnmarshalPosting(record []string) (model.Posting, error) {
	if len(record) != numFields {
		return model.Posting{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	period, err := strconv.Atoi(record[colPeriod])
	if err != nil {
		return model.Posting{}, fmt.Errorf("parsing period %q: %w", record[colPeriod], err)
	}

	kind, err := model.ParseAccountKind(record[colKind])
	if err != nil {
		return model.Posting{}, fmt.Errorf("parsing kind: %w", err)
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return model.Posting{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	source := model.PostingSource(record[colSource])
	if source != model.SourceFlow && source != model.SourceStock {
		return model.Posting{}, fmt.Errorf("unknown source %q", record[colSource])
	}

	return model.Posting{
		EntryID: record[colEntryID],
		Period:  period,
		Kind:    kind,
		Subject: record[colSubject],
		Agent:   model.AgentRef{Name: record[colAgent], Class: record[colClass]},
		Amount:  amount,
		Source:  source,
	}, nil
}
