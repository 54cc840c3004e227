// ABOUTME: Renders a thread log as an HTML transcript: user messages and agent text
// ABOUTME: events pass through goldmark markdown rendering.
package server

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389-research/chimera/protocol"
)

var transcriptMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

const transcriptHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Thread %s</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { margin: 1.5rem 0; padding: 1rem; border-radius: 8px; }
.user { background: #eef3fb; }
.agent { background: #f6f6f6; }
.who { font-size: 0.8rem; font-weight: 600; color: #666; margin-bottom: 0.5rem; }
</style>
</head>
<body>
<h1>Thread %s</h1>
`

// RenderTranscript reads the log at logPath and renders its conversation as a
// standalone HTML page.
func RenderTranscript(logPath string) ([]byte, error) {
	reader := protocol.OpenReader(logPath)
	bp, err := reader.Blueprint()
	if err != nil {
		return nil, err
	}
	events, err := reader.Events()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	id := html.EscapeString(bp.ThreadID.String())
	fmt.Fprintf(&buf, transcriptHeader, id, id)

	currentAgent := ""
	for _, e := range events {
		switch e.Type {
		case protocol.TypeUserMessage:
			content, _ := e.Data()["content"].(string)
			writeTurn(&buf, "user", "User", content)

		case protocol.TypeAgentStart:
			currentAgent, _ = e.Data()["agentName"].(string)

		case protocol.TypeTextComplete:
			who := currentAgent
			if who == "" {
				who = "Agent"
			}
			writeTurn(&buf, "agent", who, e.GetString("content"))
		}
	}

	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

// writeTurn renders one conversation turn, converting its markdown body.
func writeTurn(buf *bytes.Buffer, class, who, markdown string) {
	if strings.TrimSpace(markdown) == "" {
		return
	}
	fmt.Fprintf(buf, `<div class="turn %s"><div class="who">%s</div>`, class, html.EscapeString(who))
	if err := transcriptMarkdown.Convert([]byte(markdown), buf); err != nil {
		fmt.Fprintf(buf, "<pre>%s</pre>", html.EscapeString(markdown))
	}
	buf.WriteString("</div>\n")
}
