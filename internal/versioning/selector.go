package versioning

// Option is one entry of the "create version from" choice list.
type Option struct {
	Label string
	Value Version
}

// OptionsFrom maps versions to options, keeping the registry's order.
func OptionsFrom(versions []Version) []Option {
	options := make([]Option, 0, len(versions))
	for _, version := range versions {
		options = append(options, Option{Label: version.Name, Value: version})
	}
	return options
}

// DefaultSelection picks the option for the version open in the editor. The
// second result is false when that version is not among the options.
func DefaultSelection(options []Option, editingVersionID string) (Option, bool) {
	if editingVersionID == "" {
		return Option{}, false
	}
	for _, option := range options {
		if option.Value.ID == editingVersionID {
			return option, true
		}
	}
	return Option{}, false
}

func findOption(options []Option, versionID string) (Option, bool) {
	for _, option := range options {
		if option.Value.ID == versionID {
			return option, true
		}
	}
	return Option{}, false
}
