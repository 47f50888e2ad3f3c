package card

import (
	"bytes"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"

	"github.com/use-agent/picketline/models"
)

// NewMarkdownConverter creates a reusable, goroutine-safe Converter. The
// base plugin drops style, script and button noise from rendered cards.
func NewMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// ToMarkdown converts a rendered fragment to Markdown.
func ToMarkdown(conv *converter.Converter, fragment *html.Node) (string, error) {
	if fragment == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, fragment); err != nil {
		return "", fmt.Errorf("render fragment: %w", err)
	}
	md, err := conv.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return md, nil
}

// ActionMarkdown summarizes an action as Markdown by way of its banner.
func ActionMarkdown(conv *converter.Converter, a *models.LaborAction) (string, error) {
	banner, err := RenderBanner(a)
	if err != nil {
		return "", err
	}
	return ToMarkdown(conv, banner)
}
