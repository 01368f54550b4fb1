package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/and161185/resumatch/internal/convert"
	"github.com/and161185/resumatch/internal/model"
	"github.com/and161185/resumatch/internal/service"
)

// ---- resume input ----

// readResume loads a resume from path ('-' = stdin). The declared type comes
// from the extension and falls back to content sniffing.
func readResume(in io.Reader, path string) (model.ResumeFile, error) {
	data, err := readInput(in, path)
	if err != nil {
		return model.ResumeFile{}, err
	}
	name := filepath.Base(path)
	if path == "-" {
		name = "resume"
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return model.ResumeFile{Name: name, ContentType: ct, Data: data}, nil
}

// ---- confirmation ----

type promptConfirmer struct {
	a         *app
	assumeYes bool
}

func (p *promptConfirmer) Confirm(_ context.Context, prompt string) bool {
	if p.assumeYes {
		return true
	}
	fmt.Fprintf(p.a.errOut, "%s [y/N] ", prompt)
	ans, err := p.a.line()
	if err != nil {
		return false
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true
	}
	return false
}

// ---- report download ----

// tempBlob is a report staged in a temporary file until released.
type tempBlob struct {
	name string
	path string
}

func (b *tempBlob) Name() string     { return b.name }
func (b *tempBlob) Location() string { return b.path }
func (b *tempBlob) Release() error   { return os.Remove(b.path) }

type tempBlobs struct{}

func (tempBlobs) Create(name string, data []byte) (service.Blob, error) {
	f, err := os.CreateTemp("", "rmc-*-"+name)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &tempBlob{name: name, path: f.Name()}, nil
}

// dirDownloader copies a blob into dir under the blob's name.
type dirDownloader struct {
	dir   string
	saved string
}

func (d *dirDownloader) Download(_ context.Context, b service.Blob) error {
	data, err := os.ReadFile(b.Location())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(d.dir, b.Name())
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	d.saved = dst
	return nil
}

// pdfPageCount opens a saved report and counts its pages.
func pdfPageCount(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// ---- output ----

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wireAnalysis(r model.AnalysisResult) convert.Analysis {
	return convert.FromAnalysisResult(r)
}

func wireHistory(entries []model.HistoryEntry) []convert.HistoryItem {
	out := make([]convert.HistoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, convert.HistoryItem{
			ID:              e.ID,
			MatchPercentage: e.MatchPercentage,
			ResumeScore:     e.ResumeScore,
			CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func printResult(w io.Writer, r model.AnalysisResult) {
	fmt.Fprintf(w, "Analysis #%d\n", r.ID)
	fmt.Fprintf(w, "Match:          %.1f%%\n", r.MatchPercentage)
	fmt.Fprintf(w, "Resume score:   %.1f/10\n", r.ResumeScore)
	if r.ReadabilityScore != nil {
		fmt.Fprintf(w, "Readability:    %.1f\n", *r.ReadabilityScore)
	}
	if r.ATSCompatible != nil {
		ats := "no"
		if *r.ATSCompatible {
			ats = "yes"
		}
		fmt.Fprintf(w, "ATS compatible: %s\n", ats)
	}
	fmt.Fprintf(w, "Matched skills: %s\n", list(r.MatchedSkills))
	fmt.Fprintf(w, "Missing skills: %s\n", list(r.MissingSkills))
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "Suggestions:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

func printEntries(w io.Writer, entries []model.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No analyses yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMATCH\tSCORE\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%.1f%%\t%.1f/10\t%s\n", e.ID, e.MatchPercentage, e.ResumeScore, e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}
