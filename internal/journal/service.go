package journal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/stockflow-dev/stockflow/internal/model"
)

// Service stores the flow journal of a run under <root>/flows, one CSV
// file per period.
type Service struct {
	root string
}

// NewService creates a journal Service rooted at an output directory.
func NewService(root string) *Service {
	return &Service{root: root}
}

// AppendPeriod validates postings together with whatever the period
// already holds and appends them to the period's journal file.
func (s *Service) AppendPeriod(period int, postings []model.Posting) error {
	existing, err := s.ReadPeriod(period)
	if err != nil {
		return err
	}

	all := append(existing, postings...)
	if verrs := ValidatePostings(all, period); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}

	path := s.PeriodPath(period)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating journal dir: %w", err)
	}

	isNew := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if isNew {
		if _, err := fmt.Fprintln(f, Header); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	if err := AppendPostings(f, postings); err != nil {
		return fmt.Errorf("appending postings: %w", err)
	}
	return nil
}

// Clear removes the journal and reports of a previous run so entry
// sequences start over cleanly. Other files under the root are kept.
func (s *Service) Clear() error {
	for _, dir := range []string{"flows", "reports"} {
		if err := os.RemoveAll(filepath.Join(s.root, dir)); err != nil {
			return fmt.Errorf("clearing %s: %w", dir, err)
		}
	}
	return nil
}

// ReadPeriod reads all postings of a period. A missing file is an empty period.
func (s *Service) ReadPeriod(period int) ([]model.Posting, error) {
	path := s.PeriodPath(period)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()

	postings, err := ReadPostings(f)
	if err != nil {
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}
	return postings, nil
}

// Periods lists the periods that have a journal file, ascending.
func (s *Service) Periods() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "flows"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing journal: %w", err)
	}
	var periods []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".csv" {
			continue
		}
		p, err := strconv.Atoi(strings.TrimSuffix(name, ".csv"))
		if err != nil {
			continue
		}
		periods = append(periods, p)
	}
	sort.Ints(periods)
	return periods, nil
}

// WriteReport writes a period report (flow table, balance sheet) to
// <root>/reports/PPPP/<name>.csv, replacing any previous file.
func (s *Service) WriteReport(period int, name string, write func(io.Writer) error) error {
	path := filepath.Join(s.root, "reports", fmt.Sprintf("%04d", period), name+".csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing report %s: %w", name, err)
	}
	return f.Close()
}

// PeriodPath returns the journal file of a period.
func (s *Service) PeriodPath(period int) string {
	return filepath.Join(s.root, "flows", fmt.Sprintf("%04d.csv", period))
}
