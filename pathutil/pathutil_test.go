package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendUnix(t *testing.T) {
	p, err := Append(SyntaxUnix, "/pub", "readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "/pub/readme.txt", p)

	p, err = Append(SyntaxUnix, "", "pub")
	require.NoError(t, err)
	assert.Equal(t, "/pub", p)
}

func TestAppendVMS(t *testing.T) {
	p, err := Append(SyntaxVMS, "DISK$USER:[DIR]", "SUB")
	require.NoError(t, err)
	assert.Equal(t, "DISK$USER:[DIR.SUB]", p)

	p, err = Append(SyntaxVMS, "DISK$USER:", "DIR")
	require.NoError(t, err)
	assert.Equal(t, "DISK$USER:[DIR]", p)
}

func TestAppendOS400(t *testing.T) {
	p, err := Append(SyntaxOS400, "", "MYLIB")
	require.NoError(t, err)
	assert.Equal(t, "/MYLIB.LIB", p)

	p, err = Append(SyntaxOS400, "/MYLIB.LIB", "MYFILE")
	require.NoError(t, err)
	assert.Equal(t, "/MYLIB.LIB/MYFILE.FILE", p)
}

func TestAppendWindows(t *testing.T) {
	p, err := Append(SyntaxWindows, "C:\\data", "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "C:\\data\\file.txt", p)
}

func TestAppendMVS(t *testing.T) {
	p, err := Append(SyntaxMVS, "HLQ.QUAL", "MEMBER")
	require.NoError(t, err)
	assert.Equal(t, "HLQ.QUAL.MEMBER", p)
}

func TestAppendExceedsBudget(t *testing.T) {
	long := make([]byte, maxPathLen)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Append(SyntaxUnix, "/", string(long))
	assert.Error(t, err)
}

func TestIsSameAndPrefix(t *testing.T) {
	assert.True(t, IsSame(SyntaxUnix, "/a/b", "/a/b"))
	assert.False(t, IsSame(SyntaxUnix, "/a/b", "/A/b"))
	assert.True(t, IsSame(SyntaxWindows, "C:\\A", "c:\\a"))

	assert.True(t, IsPrefixOf(SyntaxUnix, "/a", "/a/b"))
	assert.False(t, IsPrefixOf(SyntaxUnix, "/ab", "/abc"))
	assert.True(t, IsPrefixOf(SyntaxUnix, "/a/b", "/a/b"))
}

func TestCutLastComponentUnix(t *testing.T) {
	parent, leaf := CutLastComponent(SyntaxUnix, "/a/b/c")
	assert.Equal(t, "/a/b", parent)
	assert.Equal(t, "c", leaf)

	parent, leaf = CutLastComponent(SyntaxUnix, "/c")
	assert.Equal(t, "/", parent)
	assert.Equal(t, "c", leaf)
}

func TestCutLastComponentVMS(t *testing.T) {
	parent, leaf := CutLastComponent(SyntaxVMS, "DISK$USER:[DIR.SUB]")
	assert.Equal(t, "DISK$USER:[DIR]", parent)
	assert.Equal(t, "SUB", leaf)
}

func TestMayBeValidName(t *testing.T) {
	assert.True(t, MayBeValidName(SyntaxUnix, "readme.txt", false))
	assert.False(t, MayBeValidName(SyntaxUnix, "..", false))
	assert.False(t, MayBeValidName(SyntaxUnix, "a/b", false))
	assert.False(t, MayBeValidName(SyntaxWindows, "a:b", false))
	assert.False(t, MayBeValidName(SyntaxMVS, "TOOLONGNAME", false))
}

func TestSplitNameExtension(t *testing.T) {
	base, ext := SplitNameExtension("archive.tar.gz", false, false)
	assert.Equal(t, "archive.tar", base)
	assert.Equal(t, "gz", ext)

	base, ext = SplitNameExtension("DIR.SUB", true, true)
	assert.Equal(t, "DIR.SUB", base)
	assert.Equal(t, "", ext)

	base, ext = SplitNameExtension(".hidden", false, false)
	assert.Equal(t, ".hidden", base)
	assert.Equal(t, "", ext)
}

func TestStripAS400MemberSuffix(t *testing.T) {
	assert.Equal(t, "MYFILE", StripAS400MemberSuffix("MYFILE.MBR"))
	assert.Equal(t, "MYLIB", StripAS400MemberSuffix("MYLIB.LIB"))
	assert.Equal(t, "plain", StripAS400MemberSuffix("plain"))
}
