// Package exec implements speech engines backed by external commands.
package exec

import (
	"fmt"

	"github.com/mattn/go-shellwords"
)

func parseCommand(kind, command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", kind, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", kind)
	}
	return args, nil
}
