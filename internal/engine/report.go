package engine

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// StageReport summarizes one stage of a run.
type StageReport struct {
	Stage     Stage
	Processed int64
	Written   int64
	Failed    int64
	Elapsed   time.Duration
}

// RunReport is the operator-facing run-completion report: records processed,
// entities upserted, anomalies found, and skipped/failed document counts per
// stage.
type RunReport struct {
	DataVersion    int
	TotalRecords   int64
	Stages         []StageReport
	AnomaliesFound int64
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Render formats the report for the terminal with locale-aware number
// formatting.
func (r *RunReport) Render() string {
	p := message.NewPrinter(language.MustParse("es-UY"))

	var b strings.Builder
	p.Fprintf(&b, "Pipeline run (data version %d)\n", r.DataVersion)
	p.Fprintf(&b, "  records in ledger: %d\n", r.TotalRecords)
	for _, sr := range r.Stages {
		p.Fprintf(&b, "  %-10s processed %d, written %d, failed %d (%s)\n",
			sr.Stage, sr.Processed, sr.Written, sr.Failed, sr.Elapsed.Round(time.Millisecond))
	}
	p.Fprintf(&b, "  anomalies found: %d\n", r.AnomaliesFound)
	if !r.CompletedAt.IsZero() {
		p.Fprintf(&b, "  elapsed: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}

// WriteXLSX exports the report as a spreadsheet for operators.
func (r *RunReport) WriteXLSX(path string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("run report")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"stage", "processed", "written", "failed", "elapsed"} {
		header.AddCell().SetString(h)
	}

	for _, sr := range r.Stages {
		row := sheet.AddRow()
		row.AddCell().SetString(string(sr.Stage))
		row.AddCell().SetInt64(sr.Processed)
		row.AddCell().SetInt64(sr.Written)
		row.AddCell().SetInt64(sr.Failed)
		row.AddCell().SetString(sr.Elapsed.Round(time.Millisecond).String())
	}

	meta := sheet.AddRow()
	meta.AddCell().SetString("data version")
	meta.AddCell().SetInt(r.DataVersion)

	anomalies := sheet.AddRow()
	anomalies.AddCell().SetString("anomalies found")
	anomalies.AddCell().SetInt64(r.AnomaliesFound)

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
