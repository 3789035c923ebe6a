package retrieval

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/spinloop/internal/bandit"
)

// RenderPolicy writes policies as text, json or yaml.
func RenderPolicy(w io.Writer, policies []bandit.ActionPolicy, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(policies)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(policies); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, p := range policies {
			if !p.Fitted {
				fmt.Fprintf(tw, "%s:\tNot trained yet\n", p.Action)
				continue
			}
			fmt.Fprintf(tw, "%s:\t(%d updates, intercept %.4f)\n", p.Action, p.Steps, p.Intercept)
			for _, t := range p.Weights {
				fmt.Fprintf(tw, "  %s\t%.4f\n", t.Term, t.Weight)
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
