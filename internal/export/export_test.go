package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"reportdesk/api/internal/report"
)

type snapshotSource map[int]report.Snapshot

func (s snapshotSource) GetSnapshot(_ context.Context, id string, version int) (*report.Snapshot, error) {
	snap, ok := s[version]
	if !ok || snap.DocumentID != id {
		return nil, report.ErrSnapshotNotFound
	}
	return &snap, nil
}

func approvedSnapshot() report.Snapshot {
	return report.Snapshot{
		DocumentID: "rep-42",
		Version:    2,
		ClosedAt:   time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC),
		Sections: map[report.SectionID]json.RawMessage{
			report.SectionExecutive: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Strong <growth>","marks":[{"type":"bold"}]}]}]}`),
			report.SectionKeywords:  json.RawMessage(`{"items":["solar","storage"]}`),
		},
		SectionStatus: map[report.SectionID]report.Status{
			report.SectionExecutive: report.StatusCompleted,
			report.SectionKeywords:  report.StatusCompleted,
		},
		Digest: "deadbeef",
	}
}

func TestPayloadToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: ``, expected: ``},
		{name: "plain string escaped", input: `"a < b"`, expected: `a &lt; b`},
		{name: "object as definition list", input: `{"marketShare":0.25}`, expected: `<dt>Market share</dt><dd>0.25</dd>`},
		{name: "array as list", input: `["x","y"]`, expected: "<li>x</li>\n<li>y</li>"},
		{name: "boolean", input: `{"verified":true}`, expected: `<dd>Yes</dd>`},
		{
			name:     "rich text heading",
			input:    `{"type":"doc","content":[{"type":"heading","attrs":{"level":3},"content":[{"type":"text","text":"Title"}]}]}`,
			expected: `<h3>Title</h3>`,
		},
		{
			name:     "rich text marks",
			input:    `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Go","marks":[{"type":"bold"},{"type":"italic"}]}]}]}`,
			expected: `<p><strong><em>Go</em></strong></p>`,
		},
		{name: "invalid json kept verbatim", input: `{oops`, expected: `<pre>{oops</pre>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := string(PayloadToHTML(json.RawMessage(tt.input)))
			if !strings.Contains(result, tt.expected) {
				t.Errorf("PayloadToHTML() = %q, want it to contain %q", result, tt.expected)
			}
		})
	}
}

func TestHumanize(t *testing.T) {
	tests := map[string]string{
		"decisionMakers": "Decision makers",
		"market_share":   "Market share",
		"url":            "Url",
		"":               "",
	}
	for input, want := range tests {
		if got := humanize(input); got != want {
			t.Errorf("humanize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"rep-42 v2", "rep-42-v2"},
		{"acme/2026 v1", "acme-2026-v1"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(templateData(approvedSnapshot()))
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"Analysis report rep-42",
		"version 2",
		"Jun 1, 2026",
		"Executive summary",
		"Decision makers",
		"<strong>Strong &lt;growth&gt;</strong>",
		"<li>solar</li>",
		"status-completed",
		"digest deadbeef",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
	if strings.Contains(html, "&lt;strong&gt;") {
		t.Error("section HTML was escaped")
	}
	if got := strings.Count(html, "<section "); got != len(report.AllSections) {
		t.Errorf("rendered %d sections, want %d", got, len(report.AllSections))
	}
	if !strings.Contains(html, "No content.") {
		t.Error("empty sections should render a placeholder")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(snapshotSource{2: approvedSnapshot()})

	result, err := svc.Export(context.Background(), Request{DocumentID: "rep-42", Version: 2, Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "rep-42-v2.html" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Errorf("MimeType = %q", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Analysis report rep-42") {
		t.Error("HTML export missing title")
	}
}

func TestExportMissingSnapshot(t *testing.T) {
	svc := NewService(snapshotSource{})
	_, err := svc.Export(context.Background(), Request{DocumentID: "rep-42", Version: 9, Format: FormatHTML})
	if !errors.Is(err, report.ErrSnapshotNotFound) {
		t.Fatalf("Export() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestExportUsesConverter(t *testing.T) {
	var gotName string
	svc := NewService(snapshotSource{2: approvedSnapshot()}, WithConverter(FormatPDF, func(_ context.Context, html, name string) (*Result, error) {
		gotName = name
		if !strings.Contains(html, "<html") {
			t.Errorf("converter received %q", html)
		}
		return &Result{Data: []byte("%PDF-1.7"), Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	}))

	result, err := svc.Export(context.Background(), Request{DocumentID: "rep-42", Version: 2, Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if gotName != "rep-42-v2" || string(result.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected result %q / %q", gotName, result.Data)
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatPDF, "pdf": FormatPDF, "docx": FormatDOCX, "html": FormatHTML} {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParseFormat(odt) error = %v", err)
	}
}
