package alerter

import (
	"fmt"
	"strings"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/darshan-rambhia/diskstats/internal/units"
)

const (
	diskRow   = "%-24s %-24s %10s %10s\n"
	folderRow = "%-50s %10s\n"
)

// RenderReport renders the digest body: a disk table, a folder table and the
// first error of each stream. It returns "" when the run produced nothing.
func RenderReport(report model.RunReport) string {
	var b strings.Builder

	if len(report.Disks.Samples) > 0 {
		b.WriteString("Disk usage\n")
		fmt.Fprintf(&b, diskRow, "Device", "Mount point", "Used", "Size")
		for _, s := range report.Disks.Samples {
			fmt.Fprintf(&b, diskRow, s.Device, s.MountPath, units.FormatSize(s.UsedSpace), units.FormatSize(s.Size))
		}
	}

	if len(report.Folders.Samples) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Folder sizes\n")
		fmt.Fprintf(&b, folderRow, "Path", "Size")
		for _, s := range report.Folders.Samples {
			fmt.Fprintf(&b, folderRow, s.Path, units.FormatSize(s.Size))
		}
	}

	errs := firstErrors(report)
	if len(errs) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Errors\n")
		for _, e := range errs {
			b.WriteString(e + "\n")
		}
	}

	return b.String()
}

// firstErrors returns only the first error of each stream.
func firstErrors(report model.RunReport) []string {
	var out []string
	if len(report.Disks.Errors) > 0 {
		out = append(out, "disk: "+report.Disks.Errors[0].Error())
	}
	if len(report.Folders.Errors) > 0 {
		out = append(out, "folders: "+report.Folders.Errors[0].Error())
	}
	return out
}
