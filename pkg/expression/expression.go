package expression

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/fmerge/fmerge/pkg/regex"
)

type CompiledExpression struct {
	Text    string
	Program *vm.Program
}

// File is the environment a scan filter expression is evaluated against.
type File struct {
	Path         string
	Name         string
	Dir          string
	Ext          string
	Size         int64
	ModifiedTime time.Time

	regexPattern *regex.Pattern
}

type evalContext struct {
	*File
	ctx context.Context
}

// NewFile builds the evaluation environment for one scanned file.
func NewFile(path string, info os.FileInfo) *File {
	return &File{
		Path:         path,
		Name:         info.Name(),
		Dir:          filepath.Dir(path),
		Ext:          filepath.Ext(path),
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
	}
}

// Compile compiles filter expressions against the File environment.
// Every expression must evaluate to a boolean.
func Compile(expressions []string) ([]CompiledExpression, error) {
	compiled := make([]CompiledExpression, 0, len(expressions))

	for _, expression := range expressions {
		program, err := expr.Compile(expression, expr.Env(&evalContext{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", expression, err)
		}

		compiled = append(compiled, CompiledExpression{Text: expression, Program: program})
	}

	return compiled, nil
}

// RegexMatch delegates to the regex checker
func (f *File) RegexMatch(pattern string) bool {
	// Compile pattern if needed
	if f.regexPattern == nil || f.regexPattern.Expression.String() != pattern {
		compiled, err := regex.Compile(pattern)
		if err != nil {
			return false
		}
		f.regexPattern = compiled
	}

	// Check pattern
	match, err := regex.Check(f.Name, f.regexPattern)
	if err != nil {
		return false
	}

	return match
}

// RegexMatchAny checks if the file name matches any of the provided patterns
func (f *File) RegexMatchAny(patternsStr string) bool {
	patterns := strings.Split(patternsStr, ",")

	var compiledPatterns []*regex.Pattern
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		compiled, err := regex.Compile(p)
		if err != nil {
			continue
		}
		compiledPatterns = append(compiledPatterns, compiled)
	}

	match, err := regex.CheckAny(f.Name, compiledPatterns)
	if err != nil {
		return false
	}

	return match
}

// AgeDays reports how many days ago the file was last modified.
func (f *File) AgeDays() float64 {
	return time.Since(f.ModifiedTime).Hours() / 24
}
