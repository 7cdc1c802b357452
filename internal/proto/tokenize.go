package proto

import "github.com/google/shlex"

// tokenize splits a command line into an argument vector per spec.md
// §4.4's argcargv contract: whitespace-separated, double-quoted
// substrings form one argument, backslash escapes the next character, and
// an empty line yields zero arguments. An unterminated quote or trailing
// backslash is a syntax error, reported to the caller as a 501.
func tokenize(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, err
	}
	return args, nil
}
