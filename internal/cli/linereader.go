package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// lineReader is a simple cross-platform line reader over stdin.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}

func (lr *lineReader) Close() error {
	return nil
}
