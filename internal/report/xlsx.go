// Package report exports a dataset and its quality report as an XLSX
// workbook for downstream report generators.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/sportsfeed/internal/dataset"
	"github.com/sells-group/sportsfeed/internal/validate"
)

// Sheet names in the exported workbook.
const (
	SheetData    = "data"
	SheetIssues  = "issues"
	SheetSummary = "summary"
)

// WriteXLSX writes the dataset's records, validation issues and quality
// summary to w as three sheets.
func WriteXLSX(w io.Writer, res *dataset.Result) error {
	if res == nil {
		return eris.New("report: nil dataset")
	}
	f := xlsx.NewFile()

	if err := writeData(f, res); err != nil {
		return err
	}
	if err := writeIssues(f, res); err != nil {
		return err
	}
	if err := writeSummary(f, res); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write workbook")
	}
	return nil
}

// Columns returns the union of record fields, sorted.
func Columns(res *dataset.Result) []string {
	seen := make(map[string]struct{})
	for _, rec := range res.Data {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func writeData(f *xlsx.File, res *dataset.Result) error {
	sheet, err := f.AddSheet(SheetData)
	if err != nil {
		return eris.Wrap(err, "report: add data sheet")
	}
	cols := Columns(res)
	addStrings(sheet, cols...)
	for _, rec := range res.Data {
		row := sheet.AddRow()
		for _, c := range cols {
			setValue(row.AddCell(), rec[c])
		}
	}
	return nil
}

func writeIssues(f *xlsx.File, res *dataset.Result) error {
	sheet, err := f.AddSheet(SheetIssues)
	if err != nil {
		return eris.Wrap(err, "report: add issues sheet")
	}
	addStrings(sheet, "record", "severity", "category", "field", "message")
	for _, is := range res.Quality.Issues {
		record := "dataset"
		if is.Record != validate.DatasetLevel {
			record = strconv.Itoa(is.Record)
		}
		addStrings(sheet, record, string(is.Severity), string(is.Category), is.Field, is.Message)
	}
	return nil
}

func writeSummary(f *xlsx.File, res *dataset.Result) error {
	sheet, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	q := res.Quality
	addStrings(sheet, "domain", string(res.Domain))
	addStrings(sheet, "source", res.Source)
	addStrings(sheet, "fetched_at", res.FetchedAt.UTC().Format(time.RFC3339))
	addStrings(sheet, "from_cache", strconv.FormatBool(res.FromCache))
	addStrings(sheet, "stale", strconv.FormatBool(res.Stale))
	addStrings(sheet, "records_checked", strconv.Itoa(q.RecordsChecked))
	addStrings(sheet, "errors", strconv.Itoa(q.Errors))
	addStrings(sheet, "warnings", strconv.Itoa(q.Warnings))
	addStrings(sheet, "confidence", strconv.FormatFloat(q.Confidence, 'f', 4, 64))
	addStrings(sheet, "consensus_ratio", strconv.FormatFloat(q.ConsensusRatio, 'f', 4, 64))
	addStrings(sheet, "trust_level", string(q.TrustLevel))
	addStrings(sheet, "status", string(q.Status))
	addStrings(sheet, "message", q.Message)
	return nil
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func setValue(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		cell.SetString("")
	case string:
		cell.SetString(x)
	case float64:
		cell.SetFloat(x)
	case int:
		cell.SetInt(x)
	case int64:
		cell.SetInt64(x)
	case bool:
		cell.SetBool(x)
	default:
		cell.SetString(fmt.Sprint(x))
	}
}
