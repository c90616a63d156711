package listing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	original := UnixType()
	doc, err := ExportSTR(original)
	require.NoError(t, err)

	imported, err := ImportSTR(doc)
	require.NoError(t, err)

	assert.Equal(t, original.Name, imported.Name)
	require.Len(t, imported.Columns, len(original.Columns))
	for i := range original.Columns {
		assert.Equal(t, original.Columns[i].Type, imported.Columns[i].Type)
		assert.Equal(t, original.Columns[i].Name, imported.Columns[i].Name)
		assert.Equal(t, original.Columns[i].Visible, imported.Columns[i].Visible)
	}

	// The imported rules must parse the same sample identically.
	raw := []byte("drwxr-xr-x  2 user group    4096 Jan 15  2023 sub\n")
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	wantEntries, err := Parse(original, raw, now)
	require.NoError(t, err)
	gotEntries, err := Parse(imported, raw, now)
	require.NoError(t, err)
	require.Len(t, gotEntries, len(wantEntries))
	assert.Equal(t, wantEntries[0].Data.Name, gotEntries[0].Data.Name)
	assert.Equal(t, wantEntries[0].IsDir, gotEntries[0].IsDir)
}

func TestImportValidatesColumnInvariants(t *testing.T) {
	doc := `Type Name: broken

Autodetect Condition: "always"

Columns:
"0|size|Size||||true|false"

Rules for Parsing: "SKIPWS"
`
	_, err := ImportSTR(doc)
	assert.Error(t, err, "column 0 must be a visible name column")
}

func TestImportRejectsDuplicateColumnIDs(t *testing.T) {
	doc := `Type Name: dupes

Autodetect Condition: "always"

Columns:
"0|name|Name||||true|false"
"0|size|Size||||true|false"

Rules for Parsing: "FILENAME $s1
ASSIGN name $s1"
`
	_, err := ImportSTR(doc)
	assert.Error(t, err)
}
