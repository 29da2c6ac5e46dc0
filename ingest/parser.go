package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/giygas/drug-registry/classification"
	"github.com/giygas/drug-registry/knowledge"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/normalize"
)

// Format of an observation file.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Stats counts what the parser read and skipped.
type Stats struct {
	Lines                 int `json:"lines"`
	Parsed                int `json:"parsed"`
	SkippedEmptyLines     int `json:"skippedEmptyLines"`
	SkippedMissingColumns int `json:"skippedMissingColumns"`
	SkippedFormatErrors   int `json:"skippedFormatErrors"`
}

type column int

const (
	colDrug column = iota
	colDiseaseICD
	colDiseaseName
	colSecondaryICD
	colSecondaryName
	colFeedback
	colTreatment
	colClassification
	numColumns
)

// Header aliases, compared in normalize.Name form so "Drug_Name", "drug name" and
// "DRUG-NAME" are the same column.
var headerAliases = map[string]column{
	"drug name":              colDrug,
	"drug":                   colDrug,
	"ten thuoc":              colDrug,
	"ten biet duoc":          colDrug,
	"disease icd":            colDiseaseICD,
	"icd":                    colDiseaseICD,
	"icd code":               colDiseaseICD,
	"ma icd":                 colDiseaseICD,
	"ma benh":                colDiseaseICD,
	"disease name":           colDiseaseName,
	"disease":                colDiseaseName,
	"ten benh":               colDiseaseName,
	"secondary disease icd":  colSecondaryICD,
	"secondary icd":          colSecondaryICD,
	"ma benh phu":            colSecondaryICD,
	"secondary disease name": colSecondaryName,
	"secondary disease":      colSecondaryName,
	"ten benh phu":           colSecondaryName,
	"tdv feedback":           colFeedback,
	"feedback":               colFeedback,
	"phan hoi tdv":           colFeedback,
	"treatment type":         colTreatment,
	"role":                   colTreatment,
	"vai tro":                colTreatment,
	"classification":         colClassification,
	"phan loai":              colClassification,
}

// DetectFormat picks the format from the file extension, then from the content.
func DetectFormat(name string, body []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return FormatXLSX
	case ".tsv", ".tab":
		return FormatTSV
	case ".csv":
		return FormatCSV
	}
	// XLSX files are zip archives.
	if bytes.HasPrefix(body, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	firstLine, _, _ := bytes.Cut(body, []byte("\n"))
	if bytes.Contains(firstLine, []byte("\t")) {
		return FormatTSV
	}
	return FormatCSV
}

// Parse reads observations from body. The first row is the header.
func Parse(format Format, body []byte) ([]knowledge.Observation, Stats, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatXLSX:
		rows, err = xlsxRows(bytes.NewReader(body))
	case FormatTSV:
		rows, err = tsvRows(textReader(body))
	default:
		rows, err = csvRows(textReader(body))
	}
	if err != nil {
		return nil, Stats{}, err
	}
	return observations(rows)
}

// tsvRows splits lines on tabs. TSV exports do not quote fields.
func tsvRows(r io.Reader) ([][]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1*1024*1024)

	var rows [][]string
	for scanner.Scan() {
		rows = append(rows, strings.Split(strings.TrimSuffix(scanner.Text(), "\r"), "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error at row %d: %w", len(rows)+1, err)
	}
	return rows, nil
}

func csvRows(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(bufio.NewReaderSize(r, 1<<20))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// xlsxRows returns the rows of the first sheet.
func xlsxRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("Failed to close spreadsheet", "error", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return [][]string{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func headerIndex(header []string) ([numColumns]int, error) {
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	for i, h := range header {
		if c, ok := headerAliases[normalize.Name(h)]; ok && idx[c] == -1 {
			idx[c] = i
		}
	}
	if idx[colDrug] == -1 {
		return idx, fmt.Errorf("%w: drug name", ErrMissingColumn)
	}
	if idx[colDiseaseICD] == -1 {
		return idx, fmt.Errorf("%w: disease icd", ErrMissingColumn)
	}
	return idx, nil
}

func observations(rows [][]string) ([]knowledge.Observation, Stats, error) {
	var stats Stats
	if len(rows) == 0 {
		return nil, stats, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}

	idx, err := headerIndex(rows[0])
	if err != nil {
		return nil, stats, err
	}
	required := max(idx[colDrug], idx[colDiseaseICD]) + 1

	field := func(row []string, c column) string {
		i := idx[c]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]knowledge.Observation, 0, len(rows)-1)
	for _, row := range rows[1:] {
		stats.Lines++

		if isBlank(row) {
			stats.SkippedEmptyLines++
			continue
		}
		if len(row) < required {
			stats.SkippedMissingColumns++
			continue
		}

		obs := knowledge.Observation{
			DrugName:             field(row, colDrug),
			DiseaseICD:           field(row, colDiseaseICD),
			DiseaseName:          field(row, colDiseaseName),
			SecondaryDiseaseICD:  field(row, colSecondaryICD),
			SecondaryDiseaseName: field(row, colSecondaryName),
			TDVFeedback:          field(row, colFeedback),
			TreatmentType:        field(row, colTreatment),
		}
		if obs.TreatmentType == "" {
			if raw := field(row, colClassification); raw != "" {
				obs.TreatmentType = classification.ParseClassification(raw).Label()
			}
		}

		if normalize.Name(obs.DrugName) == "" || normalize.ICDCode(obs.DiseaseICD) == "" {
			stats.SkippedFormatErrors++
			continue
		}

		out = append(out, obs)
	}
	stats.Parsed = len(out)

	logging.Info("Observation file parsed",
		"lines", stats.Lines,
		"parsed", stats.Parsed,
		"skipped_empty", stats.SkippedEmptyLines,
		"skipped_missing_columns", stats.SkippedMissingColumns,
		"skipped_format_errors", stats.SkippedFormatErrors,
	)
	return out, stats, nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
