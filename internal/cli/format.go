package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fleetpulse/core/internal/engine"
	"github.com/fleetpulse/core/internal/models"
	"github.com/fleetpulse/core/internal/normalize"
)

func FormatJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatServersTable(out io.Writer, servers []models.ServerIdentity) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIP\tPLATFORM\tSTATUS\tLAST SEEN")

	for _, s := range servers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Name, s.IP, s.Platform, s.Status, s.LastSeen)
	}

	return w.Flush()
}

func FormatAlertsTable(out io.Writer, alerts []engine.ClassifiedAlert) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tSEVERITY\tCPU\tMEMORY\tDISK\tUPLOAD\tDOWNLOAD")

	for _, a := range alerts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID,
			a.Timestamp,
			a.Severity,
			alertCell(a.CPU),
			alertCell(a.Memory),
			alertCell(a.Disk),
			speedCell(a.Network.UploadAlert, a.Network.CurrentUpload),
			speedCell(a.Network.DownloadAlert, a.Network.CurrentDownload),
		)
	}

	return w.Flush()
}

func alertCell(m models.MetricAlert) string {
	cell := normalize.FormatPercent(m.CurrentValue)
	if m.Alert {
		cell += " !"
	}
	return cell
}

func speedCell(fired bool, speed float64) string {
	cell := normalize.FormatSpeed(speed)
	if fired {
		cell += " !"
	}
	return cell
}

func FormatFeedTable(out io.Writer, feed []models.NormalizedSample) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tCPU\tMEMORY\tDISK\tUPLOAD\tDOWNLOAD\tIFACE")

	for _, n := range feed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			models.FormatTimestamp(n.Time),
			normalize.FormatPercent(n.CPU.PercentUsage),
			normalize.FormatPercent(n.Memory.Percent),
			normalize.FormatPercent(n.Disk.Percent),
			normalize.FormatSpeed(n.Network.UploadSpeed),
			normalize.FormatSpeed(n.Network.DownloadSpeed),
			n.Interface,
		)
	}

	return w.Flush()
}
