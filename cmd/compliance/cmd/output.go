package cmd

import (
	"encoding/json"
	"os"
)

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func statusIcon(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
