package eds

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	groupDataSource = "Data Source"
	// groupCalendar is the key file group of the calendar extension
	// (E_SOURCE_EXTENSION_CALENDAR).
	groupCalendar = "Calendar"
)

// sourceData is what the tool needs from a source's "Data" key file.
type sourceData struct {
	DisplayName string
	Enabled     bool
	Parent      string
	IsCalendar  bool
	BackendName string
}

// parseSourceData decodes the GLib key file EDS publishes in the Data
// property of every source object.
func parseSourceData(data string) (sourceData, error) {
	var sd sourceData
	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		IgnoreContinuation:      true,
		PreserveSurroundedQuote: true,
		SkipUnrecognizableLines: true,
		KeyValueDelimiters:      "=",
	}, []byte(data))
	if err != nil {
		return sd, fmt.Errorf("parse source key file: %w", err)
	}

	ds, err := f.GetSection(groupDataSource)
	if err != nil {
		return sd, fmt.Errorf("source key file has no [%s] group", groupDataSource)
	}
	sd.DisplayName = unescapeKeyFile(ds.Key("DisplayName").Value())
	sd.Parent = unescapeKeyFile(ds.Key("Parent").Value())
	// GLib defaults Enabled to true when the key is absent.
	sd.Enabled = true
	if ds.HasKey("Enabled") {
		sd.Enabled = strings.EqualFold(strings.TrimSpace(ds.Key("Enabled").Value()), "true")
	}

	if cal, err := f.GetSection(groupCalendar); err == nil {
		sd.IsCalendar = true
		sd.BackendName = cal.Key("BackendName").Value()
	}
	return sd, nil
}

// unescapeKeyFile reverses g_key_file string escaping (\s \n \t \r \\).
func unescapeKeyFile(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
