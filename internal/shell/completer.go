package shell

import "strings"

// commandCompleter completes slash commands for readline.
type commandCompleter struct {
	commands []string
}

// Do implements the readline.AutoCompleter interface.
func (c commandCompleter) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	current := string(line[:pos])
	if !strings.HasPrefix(current, "/") || strings.ContainsAny(current, " \t") {
		return nil, 0
	}

	var suggestions [][]rune
	for _, command := range c.commands {
		if strings.HasPrefix(command, current) {
			suggestions = append(suggestions, []rune(strings.TrimPrefix(command, current)))
		}
	}
	return suggestions, len([]rune(current))
}
