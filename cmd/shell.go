package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dargueta/osfs"
	"github.com/dargueta/osfs/common"
	"github.com/dargueta/osfs/errors"
)

// splitWords breaks a command line into words. A word starting with a double
// quote runs to the matching close quote and may contain Go escapes.
func splitWords(line string) ([]string, error) {
	var words []string
	rest := strings.TrimSpace(line)
	for rest != "" {
		if rest[0] == '"' {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, errors.ErrArgumentOutOfRange.WithMessage(
					fmt.Sprintf("unterminated quote in %q", rest))
			}
			word, _ := strconv.Unquote(quoted)
			words = append(words, word)
			rest = strings.TrimLeft(rest[len(quoted):], " \t")
			continue
		}

		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			end = len(rest)
		}
		words = append(words, rest[:end])
		rest = strings.TrimLeft(rest[end:], " \t")
	}
	return words, nil
}

func parseIntOption(key, value string) (*int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	return &n, nil
}

// parseLine turns one line of input into a request. A line that starts with
// `{` is decoded as a JSON request. Anything else is a command word followed
// by `key=value` options (block, page, perms, mode) and up to two positional
// arguments, the name and the content:
//
//	create notes.txt "hello world" perms=rw-
//	read notes.txt block=0
//
// `ok` is false for blank lines and comments.
func parseLine(line string) (request osfs.Request, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return request, false, nil
	}

	if strings.HasPrefix(line, "{") {
		if err = json.Unmarshal([]byte(line), &request); err != nil {
			return request, false, errors.ErrArgumentOutOfRange.WithMessage(
				fmt.Sprintf("bad JSON request: %s", err.Error()))
		}
		return request, true, nil
	}

	words, err := splitWords(line)
	if err != nil {
		return request, false, err
	}

	request.Command = osfs.Command(words[0])
	var positional []string
	for _, word := range words[1:] {
		key, value, found := strings.Cut(word, "=")
		if !found {
			positional = append(positional, word)
			continue
		}

		switch key {
		case "block":
			request.Block, err = parseIntOption(key, value)
		case "page":
			request.Page, err = parseIntOption(key, value)
		case "perms":
			request.Permissions = value
		case "mode":
			request.Mode = value
		default:
			positional = append(positional, word)
		}
		if err != nil {
			return request, false, err
		}
	}

	switch len(positional) {
	case 2:
		request.Content = positional[1]
		fallthrough
	case 1:
		request.Name = positional[0]
	case 0:
	default:
		return request, false, errors.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("too many arguments: %q", positional[2:]))
	}
	return request, true, nil
}

// runShell executes one request per input line and writes each response as a
// line of JSON. `as N` switches the requester and `exit` stops early.
func runShell(stack *osfs.Stack, input io.Reader, output io.Writer, who common.Owner) error {
	scanner := bufio.NewScanner(input)
	encoder := json.NewEncoder(output)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			return nil
		}
		if strings.HasPrefix(line, "as ") {
			n, err := strconv.Atoi(strings.TrimSpace(line[3:]))
			if err != nil {
				encoder.Encode(osfs.Failure(errors.ErrArgumentOutOfRange.WithMessage(
					fmt.Sprintf("requester must be an integer: %s", err.Error()))))
				continue
			}
			who = common.Owner(n)
			encoder.Encode(osfs.Success(map[string]int{"requester": n}))
			continue
		}

		request, ok, err := parseLine(line)
		if err != nil {
			encoder.Encode(osfs.Failure(err))
			continue
		}
		if !ok {
			continue
		}
		if err = encoder.Encode(stack.Handle(request, who)); err != nil {
			return errors.ErrIOFailed.Wrap(err)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.ErrIOFailed.Wrap(err)
	}
	return nil
}
