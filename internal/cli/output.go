package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

func printMessages(w io.Writer, format string, ms []models.Message) error {
	if ms == nil {
		ms = []models.Message{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ms)
	case "yaml":
		b, err := yaml.Marshal(ms)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSENDER\tSTATE\tSENT\tTEXT")
		for _, m := range ms {
			text := m.Text
			if m.Deleted() {
				text = "(deleted)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.SenderID, m.State(), humanize.Time(m.CreatedAt), text)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
