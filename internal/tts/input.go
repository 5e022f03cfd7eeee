package tts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ResolveText picks the text to speak: the contents of arg when it names a readable,
// non-empty file, otherwise arg itself, otherwise stdin when it is not nil. The result
// may be empty; the synthesizer substitutes its fallback text.
func ResolveText(arg string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(arg) != "" {
		info, err := os.Stat(arg)
		switch {
		case err == nil && !info.IsDir():
			data, err := os.ReadFile(arg)
			if err != nil {
				return "", fmt.Errorf("read text file: %w", err)
			}
			if text := strings.TrimSpace(string(data)); text != "" {
				return text, nil
			}
		case err != nil && !errors.Is(err, os.ErrNotExist) && !isNameError(err):
			return "", fmt.Errorf("stat text argument: %w", err)
		}
		return strings.TrimSpace(arg), nil
	}
	if stdin == nil {
		return "", nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// isNameError reports stat failures caused by arg being prose rather than a path.
func isNameError(err error) bool {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	msg := pathErr.Err.Error()
	return strings.Contains(msg, "file name too long") || strings.Contains(msg, "not a directory") || strings.Contains(msg, "invalid argument")
}
