package publisher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"k8s.io/klog/v2"

	"auto_content_pipeline/depth"
	"auto_content_pipeline/generator"
)

const digestLimit = 120

// Output describes one finished stage run to be written out.
type Output struct {
	RunID   string
	Subject depth.Subject
	Result  depth.Result
	Date    time.Time
}

// Written lists the files produced for one Output.
type Written struct {
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
	Metadata string `json:"metadata"`
}

// runMeta 是 *.run.json 旁路文件的内容。
type runMeta struct {
	RunID     string        `json:"run_id"`
	Subject   depth.Subject `json:"subject"`
	Title     string        `json:"title,omitempty"`
	Digest    string        `json:"digest,omitempty"`
	Words     int           `json:"words"`
	Chars     int           `json:"chars"`
	CreatedAt time.Time     `json:"created_at"`
	Result    depth.Result  `json:"result"`
}

// Publisher writes final stage text into a directory, one dated file per unit.
type Publisher struct {
	dir string
}

func New(dir string) (*Publisher, error) {
	if dir == "" {
		return nil, errors.New("output dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Publisher{dir: dir}, nil
}

func (p *Publisher) Dir() string { return p.dir }

// BaseName 形如 blog-vosslab__repox-2026-10-15。
func BaseName(subject depth.Subject, date time.Time) string {
	return fmt.Sprintf("%s-%s-%s", depth.Slug(subject.Stage), depth.Slug(subject.Unit), date.Format("2006-01-02"))
}

// Publish writes the text, an HTML rendering for Markdown stages and the
// run metadata. Re-publishing the same unit on the same day overwrites.
func (p *Publisher) Publish(out Output) (Written, error) {
	text := strings.TrimSpace(out.Result.Text)
	if text == "" {
		return Written{}, errors.New("nothing to publish: empty text")
	}
	date := out.Date
	if date.IsZero() {
		date = time.Now()
	}
	base := filepath.Join(p.dir, BaseName(out.Subject, date))

	var w Written
	markdown := isMarkdownStage(out.Subject.Stage)
	w.Text = base + ".txt"
	if markdown {
		w.Text = base + ".md"
	}
	if err := os.WriteFile(w.Text, []byte(text+"\n"), 0644); err != nil {
		return Written{}, err
	}

	meta := runMeta{
		RunID:     out.RunID,
		Subject:   out.Subject,
		Words:     generator.CountWords(text),
		Chars:     len([]rune(text)),
		CreatedAt: date,
		Result:    out.Result,
	}
	if markdown {
		meta.Title = generator.ExtractTitle(text)
		meta.Digest = generator.Digest(text, digestLimit)
		page, err := renderPage(meta.Title, text)
		if err != nil {
			return Written{}, fmt.Errorf("render html: %w", err)
		}
		w.HTML = base + ".html"
		if err := os.WriteFile(w.HTML, []byte(page), 0644); err != nil {
			return Written{}, err
		}
	} else {
		meta.Digest = generator.TrimToCharLimit(text, digestLimit)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Written{}, err
	}
	w.Metadata = base + ".run.json"
	if err := os.WriteFile(w.Metadata, data, 0644); err != nil {
		return Written{}, err
	}
	klog.V(2).Infof("[publish] %s -> %s", out.Subject, w.Text)
	return w, nil
}

func isMarkdownStage(stage string) bool {
	return stage == "blog" || stage == "outline"
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderPage 生成独立的 HTML 页面，标题放进 <title>。
func renderPage(title, md string) (string, error) {
	body, err := mdToHTML(md)
	if err != nil {
		return "", err
	}
	if title == "" {
		title = "Untitled"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(title)))
	b.WriteString("</head>\n<body>\n<article>\n")
	b.WriteString(body)
	b.WriteString("</article>\n</body>\n</html>\n")
	return b.String(), nil
}
