package service

import (
	"errors"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/field-4d/cloud-sub000/model"
)

// Report markup follows the style of the existing cloud alert mails:
// bordered table, green header, plain notice footer.
const reportHead = `<html><head><style>
body { font-family: Arial; font-size: 13px; }
table { border-collapse: collapse; width: 100%; font-size: 13px; }
th, td { border: 1px solid #ddd; padding: 8px; }
th { background-color: #4CAF50; color: white; }
</style></head><body>`

const reportFoot = `<p style="font-size: 12px; color: #555; margin-top: 10px;">
You are receiving this email because you are listed as a contact for this experiment.
</p></body></html>`

var alertReportTmpl = template.Must(template.New("alerts").Parse(`<table>
<tr><th>Timestamp</th><th>Experiment</th><th>Location</th><th>Address</th><th>Condition</th><th>Value</th><th>Expected</th></tr>
{{- range . }}
<tr><td>{{ .At.Format "2006-01-02T15:04:05" }}</td><td>{{ .Experiment }}</td><td>{{ .Location }}</td><td>{{ .LLA }}</td><td>{{ .Condition }}</td><td>{{ printf "%.2f" .Value }}</td><td>{{ .Expected }}</td></tr>
{{- end }}
</table>`))

func renderAlertReport(rows []model.AlertLine) (string, error) {
	if len(rows) == 0 {
		return "", errors.New("alert report with no rows")
	}
	var sb strings.Builder
	sb.WriteString(reportHead)
	if err := alertReportTmpl.Execute(&sb, rows); err != nil {
		return "", errors.Join(err, errors.New("render alert report"))
	}
	sb.WriteString(reportFoot)
	return sb.String(), nil
}

// DeadManRow is one silent-sensor observation in a dead-man report.
type DeadManRow struct {
	Experiment string
	LLA        string
	Location   string
	LastSeen   time.Time
	Minutes    int
}

// CSV returns the row in the report's comma-delimited form.
func (r DeadManRow) CSV() string {
	return strings.Join([]string{
		r.Experiment,
		r.LLA,
		r.Location,
		r.LastSeen.Format("2006-01-02T15:04:05"),
		strconv.Itoa(r.Minutes),
	}, ",")
}

var deadManReportTmpl = template.Must(template.New("deadman").Parse(`<table>
<tr><th>Experiment</th><th>Address</th><th>Location</th><th>Last Seen</th><th>Minutes Silent</th></tr>
{{- range . }}
<tr><td>{{ .Experiment }}</td><td>{{ .LLA }}</td><td>{{ .Location }}</td><td>{{ .LastSeen.Format "2006-01-02T15:04:05" }}</td><td>{{ .Minutes }}</td></tr>
{{- end }}
</table>`))

func renderDeadManReport(rows []DeadManRow) (string, error) {
	if len(rows) == 0 {
		return "", errors.New("dead-man report with no rows")
	}
	var sb strings.Builder
	sb.WriteString(reportHead)
	if err := deadManReportTmpl.Execute(&sb, rows); err != nil {
		return "", errors.Join(err, errors.New("render dead-man report"))
	}
	sb.WriteString(reportFoot)
	return sb.String(), nil
}
