package app

// Name and Version identify this tool in rewritten software fields.
// Version is overridden at build time with -ldflags "-X ...app.Version=".
var (
	Name    = "WSI DeID"
	Version = "0.1.0-dev"
)

// Marker returns the provenance string embedded into redacted images.
func Marker() string {
	return Name + " " + Version
}
