package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Export encodings.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatCSV  = "csv"
)

// Formats lists the supported export encodings.
func Formats() []string { return []string{FormatJSON, FormatText, FormatCSV} }

// Export serializes the current jobs, one document per entry.
func (c *Coordinator) Export(format string) ([]byte, error) {
	return FormatJobs(c.Jobs(), format)
}

// FormatJobs encodes jobs as json (all fields), text (a "# name" header
// followed by the text) or csv (one quoted row per file).
func FormatJobs(jobs []Job, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return formatJSON(jobs)
	case FormatText, "txt":
		return formatText(jobs), nil
	case FormatCSV:
		return formatCSV(jobs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func formatJSON(jobs []Job) ([]byte, error) {
	bundle := struct {
		Documents []Job `json:"documents"`
	}{Documents: jobs}
	if bundle.Documents == nil {
		bundle.Documents = []Job{}
	}
	return json.MarshalIndent(bundle, "", "  ")
}

func formatText(jobs []Job) []byte {
	var out strings.Builder
	for i, job := range jobs {
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(fmt.Sprintf("# %s\n", job.Name))
		switch {
		case job.Result != nil:
			out.WriteString(job.Result.Text)
			out.WriteString("\n")
		case job.Error != "":
			out.WriteString(fmt.Sprintf("[%s: %s]\n", job.Status, job.Error))
		default:
			out.WriteString(fmt.Sprintf("[%s]\n", job.Status))
		}
	}
	return []byte(out.String())
}

func formatCSV(jobs []Job) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{
		"file_id", "name", "status", "confidence", "pages", "processing_time_ms", "edited", "error", "text",
	}}
	for _, job := range jobs {
		row := []string{job.FileID, job.Name, string(job.Status), "", "", "", strconv.FormatBool(job.Edited), job.Error, ""}
		if r := job.Result; r != nil {
			row[3] = fmt.Sprintf("%.2f", r.Confidence)
			row[4] = strconv.Itoa(r.Pages)
			row[5] = strconv.FormatInt(r.ProcessingTimeMs, 10)
			row[8] = r.Text
		}
		rows = append(rows, row)
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
