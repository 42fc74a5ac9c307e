package inspect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func repeatTo(s string, size int) []byte {
	var b strings.Builder
	for b.Len() < size {
		b.WriteString(s)
	}
	return []byte(b.String()[:size])
}

const cSnippet = "#include <stdio.h>\nint main(){ printf(\"hi\"); return 0; }\n"

const prose = "The committee met on a grey morning in early spring to discuss the future of the old " +
	"harbour library. Several members argued that the building should be restored to its former " +
	"glory, while others felt that the money would be better spent on new books and longer opening " +
	"hours. After a long and friendly debate the chair suggested a compromise, and the room slowly " +
	"came around to the idea. A small group agreed to draw up a plan over the summer months and " +
	"report back before the autumn meeting.\n"

func TestProbablyIsSourceCodeC(t *testing.T) {
	assert.True(t, ProbablyIsSourceCode(repeatTo(cSnippet, 2000)))
}

func TestProbablyIsSourceCodeProse(t *testing.T) {
	assert.False(t, ProbablyIsSourceCode(repeatTo(prose, 2000)))
}

func TestProbablyIsSourceCodeStructuredC(t *testing.T) {
	src := `/* walk the list and free every node */
static void release(struct node *head)
{
	struct node *next;
	while (head != NULL) {
		next = head->next;
		kfree(head);
		head = next;
	}
	for (i = 0; i < len; i++) {
		buf[i] = 0;
	}
	if (count == 0) { return; }
}
`
	assert.True(t, ProbablyIsSourceCode([]byte(src)))
}

func TestProbablyIsSourceCodeShortInputs(t *testing.T) {
	assert.False(t, ProbablyIsSourceCode(nil))
	assert.False(t, ProbablyIsSourceCode([]byte("if you have a moment, call me")))
	assert.False(t, ProbablyIsSourceCode([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")))
}

func TestWordScore(t *testing.T) {
	a := accumulate([]byte("sizeof typedef enum goto NULL int"))
	assert.GreaterOrEqual(t, a.wordScore(), 0.9)

	a = accumulate(repeatTo(prose, 1000))
	assert.Equal(t, 0.0, a.wordScore())
}

func TestSemicolonScore(t *testing.T) {
	// Too few lines to say anything beyond "has semicolons".
	a := accumulate([]byte("a; b; c;"))
	assert.Equal(t, 0.3, a.semicolonScore())

	a = accumulate(repeatTo("x = y;\n", 700))
	assert.GreaterOrEqual(t, a.semicolonScore(), 0.9)
	assert.LessOrEqual(t, a.semicolonScore(), 1.0)

	a = accumulate(repeatTo(prose, 1000))
	assert.Equal(t, 0.0, a.semicolonScore())
}

func TestPunctuationScore(t *testing.T) {
	a := accumulate([]byte("{(a[0]=b);}"))
	assert.Equal(t, 0.8, a.punctuationScore())

	a = accumulate([]byte("   \n\t"))
	assert.Equal(t, 0.0, a.punctuationScore())

	a = accumulate(repeatTo(prose, 1000))
	assert.Less(t, a.punctuationScore(), 0.45)
}

func TestPatternScore(t *testing.T) {
	assert.Equal(t, 0.0, patternScore([]byte(prose)))
	assert.Greater(t, patternScore([]byte("while (x) { x--; }")), 0.0)
	assert.Greater(t, patternScore([]byte("char name[32];")), 0.0)
	assert.Greater(t, patternScore([]byte("(*p).field = 1;")), 0.0)
	assert.Equal(t, 1.0, patternScore([]byte(
		"/* a */ /* b */ if (a) { b; } while (c) { d; } for (i = 0; i < n; i++) { e; } int v[3];")))
}
