package cmd

import (
	"fmt"
	"strings"

	"github.com/guildhall/guildhall/pkg/models"
)

// ParseBuiltinCommands reads a comma separated list of "type:name" entries,
// for example "slash:help,prefix:!ping".
func ParseBuiltinCommands(raw string) ([]models.CommandSpec, error) {
	var specs []models.CommandSpec

	for entry := range strings.SplitSeq(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		rawType, name, found := strings.Cut(entry, ":")
		if !found || name == "" {
			return nil, fmt.Errorf("built-in command %q is not type:name", entry)
		}

		commandType, err := models.ParseCommandType(rawType)
		if err != nil {
			return nil, fmt.Errorf("built-in command %q: %w", entry, err)
		}

		specs = append(specs, models.CommandSpec{Type: commandType, Name: name})
	}

	return specs, nil
}
