// Package report renders run artifacts to the downloads directory.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"oppscout-engine/internal/domain"
)

// Writer turns a finished run into downloadable artifacts and returns
// their filenames (no directory component).
type Writer interface {
	WriteOpportunities(opps []domain.Opportunity) (string, error)
	WriteMatches(matches []domain.MatchScore, byFP map[string]domain.Opportunity) (string, error)
}

// CSVWriter writes timestamped CSV files into Dir.
type CSVWriter struct {
	Dir string
	now func() time.Time
}

func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{Dir: dir, now: time.Now}
}

func (w *CSVWriter) stamp() string {
	return w.now().UTC().Format("20060102_150405")
}

func (w *CSVWriter) WriteOpportunities(opps []domain.Opportunity) (string, error) {
	filename := fmt.Sprintf("opportunities_%s.csv", w.stamp())

	rows := make([][]string, 0, len(opps)+1)
	rows = append(rows, []string{"Title", "Agency", "URL", "Posted Date", "Close Date", "Source", "Is New", "Description"})
	for _, o := range opps {
		isNew := "No"
		if o.IsNew {
			isNew = "Yes"
		}
		rows = append(rows, []string{
			o.Title, o.Agency, o.URL, o.PostedDate, o.CloseDate, o.SourceName, isNew, flatten(o.Description),
		})
	}

	if err := w.writeFile(filename, rows); err != nil {
		return "", err
	}
	return filename, nil
}

// WriteMatches writes the matchmaking artifact. Called with an empty
// matches slice it still produces a file, so a run with no matches (or a
// degraded run) has something to download.
func (w *CSVWriter) WriteMatches(matches []domain.MatchScore, byFP map[string]domain.Opportunity) (string, error) {
	filename := fmt.Sprintf("matchmaking_%s.csv", w.stamp())

	rows := make([][]string, 0, len(matches)+1)
	rows = append(rows, []string{"Title", "Agency", "URL", "Close Date", "Relevance Score", "Rationale", "Suggested Partners"})
	for _, m := range matches {
		opp := byFP[m.OpportunityFingerprint]
		rows = append(rows, []string{
			opp.Title, opp.Agency, opp.URL, opp.CloseDate,
			fmt.Sprintf("%.2f", m.Score),
			flatten(m.Rationale),
			formatPartners(m.SuggestedPartners),
		})
	}

	if err := w.writeFile(filename, rows); err != nil {
		return "", err
	}
	return filename, nil
}

func (w *CSVWriter) writeFile(filename string, rows [][]string) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.Dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		_ = f.Close()
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatPartners(partners []domain.PartnerSuggest) string {
	if len(partners) == 0 {
		return ""
	}
	parts := make([]string, 0, len(partners))
	for _, p := range partners {
		if p.Reasoning != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", p.Company, p.Reasoning))
		} else {
			parts = append(parts, p.Company)
		}
	}
	return strings.Join(parts, "; ")
}

// flatten keeps CSV cells single-line for spreadsheet viewers.
func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}
