package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Interactive input. Replaced in tests.
var (
	stdin           io.Reader = os.Stdin
	stdinIsTerminal           = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPassword              = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
)

var warnColor = color.New(color.FgYellow)

// promptLine asks for one line of input, returning def when the answer is empty.
func promptLine(out io.Writer, reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// promptSecret reads a password without echo.
func promptSecret(out io.Writer, label string) (string, error) {
	if !stdinIsTerminal() {
		return "", fmt.Errorf("%s required but stdin is not a terminal", strings.ToLower(label))
	}
	fmt.Fprintf(out, "%s: ", label)
	b, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return string(b), nil
}

// confirm asks a yes/no question. Without a terminal the answer is no.
func confirm(out io.Writer, question string) bool {
	if !stdinIsTerminal() {
		return false
	}
	warnColor.Fprintf(out, "%s [y/N]: ", question)
	input, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && input == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	}
	return false
}
