package inspect

import (
	"regexp"
	"strings"
)

// Thresholds of the source-code classifier.
const (
	minLinesToEvaluate = 2
	minBytesToEvaluate = 500

	semicolonsPerLine = 0.20
	semicolonsPerByte = 0.005
	typicalWordRatio  = 0.05
	punctuationRatio  = 0.09

	explicitWordsForCertainty = 5
	maxPatternMatches         = 5
)

// Tokens that essentially only occur in C source.
var explicitCWords = map[string]bool{
	"->": true, "==": true, "&&": true, "||": true,
	"#ifndef": true, "#ifdef": true, "#define": true, "#include": true, "#endif": true,
	"enum": true, "typedef": true, "goto": true, "sizeof": true,
	"int": true, "break;": true, "do{": true,
	"ssize_t": true, "size_t": true, "NULL": true, "_Packed": true,
}

// Calls whose name followed by "(" gives the language away.
var explicitCCalls = []string{
	"printf(", "printk(", "free(", "kfree(", "malloc(", "kmalloc(",
	"close(", "open(", "strncpy(", "strcpy(", "strnlen(", "strlen(", "strcmp(", "memcpy(", "memset(",
}

// Words common in C but also in prose or other languages.
var typicalCWords = map[string]bool{
	"auto": true, "else": true, "long": true, "switch": true,
	"break": true, "register": true, "case": true, "extern": true,
	"return": true, "union": true, "struct": true, "bool": true,
	"char": true, "float": true, "short": true, "unsigned": true,
	"const": true, "for": true, "signed": true, "void": true,
	"continue": true, "volatile": true, "do": true, "while": true,
	"default": true, "if": true, "static": true, "double": true,
}

var cPrimitiveTypes = []string{"int", "bool", "char", "float", "short", "long", "double"}

// Punctuation that is dense in C and sparse in prose.
const cPunctuation = ";{}()><=!*-/&[]_"

var cPatterns = buildCPatterns()

func buildCPatterns() []*regexp.Regexp {
	out := []*regexp.Regexp{
		regexp.MustCompile(`(?s)\bwhile\s*\(.*?\)\s*\{.*?\}`),
		regexp.MustCompile(`(?s)\bif\s*\(.*?\)\s*\{.*?\}`),
		regexp.MustCompile(`(?s)\bfor\s*\([^;]*;[^;]*;[^)]*\)\s*\{.*?\}`),
		regexp.MustCompile(`(?s)/\*.*?\*/`),
		regexp.MustCompile(`\(\*\s*\w+\s*\)\.`),
	}
	for _, t := range cPrimitiveTypes {
		out = append(out, regexp.MustCompile(`\b`+t+`(\s+\w+)?\s*\[[^\]\n]*\]`))
	}
	return out
}

// accumulator holds the per-call counts the signals are derived from. It is
// built, read and dropped within one ProbablyIsSourceCode call.
type accumulator struct {
	chars      [256]int
	length     int
	lines      int
	semicolons int
	words      []string
}

func accumulate(chunk []byte) accumulator {
	a := accumulator{length: len(chunk)}
	for _, c := range chunk {
		a.chars[c]++
	}
	a.lines = a.chars['\n']
	a.semicolons = a.chars[';']
	a.words = strings.Fields(string(chunk))
	return a
}

// ProbablyIsSourceCode reports whether chunk looks like C source.
//
// It is a heuristic tuned to avoid false positives: short or ambiguous input
// scores low on the size-dependent signals and is let through.
func ProbablyIsSourceCode(chunk []byte) bool {
	a := accumulate(chunk)

	word := a.wordScore()
	semi := a.semicolonScore()
	if (word >= 0.9 && semi > 0.3) || (word+semi)/2 >= 0.85 {
		return true
	}

	punct := a.punctuationScore()
	if word >= 0.9 && punct >= 0.7 {
		return true
	}

	pattern := patternScore(chunk)
	switch {
	case word >= 0.9 && pattern > 0:
		return true
	case semi >= 0.75 && punct >= 0.7 && pattern > 0:
		return true
	case (word+semi+punct+pattern)/4 >= 0.6:
		return true
	}
	return false
}

func isExplicitCWord(w string) bool {
	if explicitCWords[w] {
		return true
	}
	for _, call := range explicitCCalls {
		if strings.HasPrefix(w, call) {
			return true
		}
	}
	return strings.Contains(w, "->")
}

// wordScore weighs explicit C tokens against typical ones.
func (a accumulator) wordScore() float64 {
	if len(a.words) == 0 {
		return 0
	}

	var explicit, typical, tested int
	for _, w := range a.words {
		switch {
		case isExplicitCWord(w):
			explicit++
		case typicalCWords[w]:
			typical++
		}
		tested++
		if explicit >= explicitWordsForCertainty {
			return 0.9 + min(0.05, float64(typical)/float64(tested))
		}
	}

	enoughTypical := float64(typical)/float64(tested) >= typicalWordRatio
	switch {
	case explicit == 0 && !enoughTypical:
		return 0
	case explicit == 0:
		return 0.4
	case explicit == 1 && !enoughTypical:
		return 0.5
	case explicit == 1:
		return 0.6
	case !enoughTypical:
		return 0.7
	default:
		return 0.85
	}
}

// semicolonScore bands semicolon density per line and per byte.
func (a accumulator) semicolonScore() float64 {
	if a.lines < minLinesToEvaluate || a.length == 0 {
		if a.semicolons > 0 {
			return 0.3
		}
		return 0
	}

	perLine := float64(a.semicolons) / float64(a.lines)
	perByte := float64(a.semicolons) / float64(a.length)
	large := a.length >= minBytesToEvaluate

	switch {
	case perLine >= semicolonsPerLine && large:
		return min(1.0, 0.9+(perLine-semicolonsPerLine)*0.1)
	case perLine >= semicolonsPerLine:
		return 0.75
	case perByte >= semicolonsPerByte && large:
		return 0.75
	case perByte >= semicolonsPerByte:
		return 0.5
	case a.semicolons > 0:
		return 0.3
	}
	return 0
}

// punctuationScore compares C punctuation against all non-whitespace bytes.
func (a accumulator) punctuationScore() float64 {
	visible := a.length
	for _, c := range []byte{' ', '\t', '\n', '\r', '\f', '\v'} {
		visible -= a.chars[c]
	}
	if visible <= 0 {
		return 0
	}

	var common int
	for i := 0; i < len(cPunctuation); i++ {
		common += a.chars[cPunctuation[i]]
	}

	ratio := float64(common) / float64(visible)
	if ratio >= punctuationRatio {
		return 0.8
	}
	// Stays below 0.09*5 = 0.45.
	return ratio * 5
}

// patternScore counts distinct structural matches, capped and scaled to [0,1].
func patternScore(chunk []byte) float64 {
	seen := make(map[string]struct{})
	for _, re := range cPatterns {
		for _, m := range re.FindAll(chunk, maxPatternMatches) {
			seen[string(m)] = struct{}{}
			if len(seen) >= maxPatternMatches {
				return 1
			}
		}
	}
	return float64(len(seen)) / maxPatternMatches
}
