package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"cadence/internal/core"
	"cadence/internal/metrics"
)

const reportTemplate = `Weekly send report ({{.From}} .. {{.To}})
{{- range .Jobs}}
{{.Name}}: sent {{.Sent}}, denied {{.Denied}}, failed {{.Failed}}, success {{printf "%.1f" .SuccessPct}}% (p50 {{printf "%.2f" .P50}}s, p95 {{printf "%.2f" .P95}}s)
{{- end}}
{{- if .Denials}}
Permit denials:
{{- range .Denials}}
- {{.Reason}}: {{.Count}}
{{- end}}
{{- end}}`

type reportJobRow struct {
	Name       string
	Sent       int
	Denied     int
	Failed     int
	SuccessPct float64
	P50        float64
	P95        float64
}

type reportDenial struct {
	Reason string
	Count  int
}

type reportData struct {
	From    string
	To      string
	Jobs    []reportJobRow
	Denials []reportDenial
}

// WeeklyReport renders the aggregator's seven-day snapshot. A week with no
// outcomes skips the slot.
type WeeklyReport struct {
	source    SnapshotSource
	reportJob string
	clock     core.Clock
	tmpl      *template.Template
}

func NewWeeklyReport(deps Deps, raw json.RawMessage) (Producer, error) {
	_ = raw
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("report: snapshot source required")
	}
	tmpl, err := template.New("weekly").Parse(reportTemplate)
	if err != nil {
		return nil, err
	}
	return &WeeklyReport{
		source:    deps.Snapshots,
		reportJob: deps.ReportJob,
		clock:     deps.clock(),
		tmpl:      tmpl,
	}, nil
}

func (r *WeeklyReport) Build(ctx context.Context) (string, error) {
	snap := r.source.WeeklySnapshot(r.clock.Now(), r.reportJob)
	if len(snap.Jobs) == 0 && len(snap.DenialReasons) == 0 {
		return "", nil
	}
	data := buildReportData(snap)

	var b strings.Builder
	if err := r.tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func buildReportData(snap metrics.WeeklySnapshot) reportData {
	data := reportData{
		From: snap.From.Format("2006-01-02"),
		To:   snap.To.Format("2006-01-02"),
	}
	names := make([]string, 0, len(snap.Jobs))
	for name := range snap.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snap.Jobs[name]
		data.Jobs = append(data.Jobs, reportJobRow{
			Name:       name,
			Sent:       st.Sent,
			Denied:     st.Denied,
			Failed:     st.Failed,
			SuccessPct: st.SuccessRate * 100,
			P50:        st.P50,
			P95:        st.P95,
		})
	}
	reasons := make([]string, 0, len(snap.DenialReasons))
	for reason := range snap.DenialReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		data.Denials = append(data.Denials, reportDenial{Reason: reason, Count: snap.DenialReasons[reason]})
	}
	return data
}
