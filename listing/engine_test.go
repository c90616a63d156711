package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestParseUnixListing(t *testing.T) {
	raw := []byte("drwxr-xr-x  2 user group    4096 Jan 15  2023 sub\n" +
		"-rw-r--r--  1 user group   12345 Jan 16 10:32 readme.txt\n" +
		". \n..\n")
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	entries, err := Parse(UnixType(), raw, now)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "sub", entries[0].Data.Name)
	assert.True(t, entries[0].IsDir)

	assert.Equal(t, "readme.txt", entries[1].Data.Name)
	assert.False(t, entries[1].IsDir)
	assert.EqualValues(t, 12345, entries[1].Data.Size)
}

func TestParseRejectsPartialMatch(t *testing.T) {
	raw := []byte("this is not a unix listing row at all !!\n")
	_, err := Parse(UnixType(), raw, time.Now())
	require.Error(t, err)
	var np ErrNotParseable
	assert.ErrorAs(t, err, &np)
}

func TestParseEmptyListing(t *testing.T) {
	entries, err := Parse(UnixType(), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVMSEmptyDirSentinel(t *testing.T) {
	raw := []byte("%RMS-E-FNF, file not found\n")
	entries, err := Parse(VMSType(), raw, time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAutodetectPrefersSystDetectedType(t *testing.T) {
	catalog := DefaultCatalog()
	raw := []byte("drwxr-xr-x  2 user group    4096 Jan 15  2023 sub\n")
	st, entries, err := Autodetect(catalog, nil, "220 welcome", "215 UNIX Type: L8", raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "unix", st.Name)
	require.Len(t, entries, 1)
}

func TestAutodetectFallsThroughToGeneric(t *testing.T) {
	catalog := DefaultCatalog()
	raw := []byte("drwxr-xr-x  2 user group    4096 Dec 15  2023 sub\n")
	// No banner hints match any specific dialect's Detector; one of
	// the UNIX-grammar dialects (still tried in catalog order) ends up
	// parsing the sample successfully.
	st, entries, err := Autodetect(catalog, nil, "220 hello", "215 Some Unknown System", raw, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Data.Name)
	assert.True(t, entries[0].IsDir)
	assert.NotNil(t, st)
}

func TestResolvePastYear(t *testing.T) {
	now := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	// December is in the future relative to March if taken at face
	// value for the current year, so it must resolve to last year.
	yr := resolvePastYear(now, time.December, 15)
	assert.Equal(t, 2022, yr)

	yr = resolvePastYear(now, time.January, 15)
	assert.Equal(t, 2023, yr)
}

func TestGermanMonthNames(t *testing.T) {
	raw := []byte("drwxr-xr-x  2 user group    4096 Mär 15  2023 verzeichnis\n")
	entries, err := Parse(UnixGermanType(), raw, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "verzeichnis", entries[0].Data.Name)
}

func TestParseDecodesLatin1Listing(t *testing.T) {
	utf8Line := "-rw-r--r--  1 user group   100 Jan 15  2023 café.txt\n"
	latin1, err := charmap.ISO8859_1.NewEncoder().String(utf8Line)
	require.NoError(t, err)

	entries, err := Parse(UnixType(), []byte(latin1), time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "café.txt", entries[0].Data.Name)
}
