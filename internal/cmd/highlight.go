package cmd

import (
	"fmt"
	"html/template"

	"github.com/spf13/cobra"

	"github.com/dativo-io/veil/internal/redact"
)

var (
	highlightRules  ruleFlags
	highlightOutput string
	highlightBare   bool
)

var highlightCmd = &cobra.Command{
	Use:   "highlight [file]",
	Short: "Render the document as HTML with every finding marked",
	Args:  cobra.ExactArgs(1),
	RunE:  runHighlight,
}

func init() {
	highlightRules.register(highlightCmd)
	highlightCmd.Flags().StringVarP(&highlightOutput, "output", "o", "", "write to file instead of stdout")
	highlightCmd.Flags().BoolVar(&highlightBare, "fragment", false, "print only the marked-up text, without the HTML page around it")
	rootCmd.AddCommand(highlightCmd)
}

// highlightPage wraps the marked-up text. The title never includes the
// input file name.
var highlightPage = template.Must(template.New("highlight").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Veil highlight</title>
<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; }
pre { white-space: pre-wrap; line-height: 1.5; }
mark.pii { background: #ffd8a8; border-radius: 3px; padding: 0 2px; }
mark.pii-name { background: #ffc9c9; }
mark.pii-custom { background: #d0bfff; }
mark.pii-ignored { background: #e9ecef; text-decoration: line-through; }
</style>
</head>
<body>
<pre>{{.}}</pre>
</body>
</html>
`))

func runHighlight(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "highlight")
	defer span.End()

	p, err := newPipeline()
	if err != nil {
		return err
	}
	text, det, err := p.detect(ctx, cmd, args[0], &highlightRules)
	if err != nil {
		return err
	}

	w, closeOut, err := outputWriter(cmd, highlightOutput)
	if err != nil {
		return err
	}
	body := redact.Highlight(text, det.Findings)
	if highlightBare {
		_, err = fmt.Fprint(w, body)
	} else {
		// Highlight escapes every literal run of the text itself.
		err = highlightPage.Execute(w, template.HTML(body))
	}
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}
