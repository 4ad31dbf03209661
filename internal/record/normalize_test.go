package record

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/internal/xmlshape"
	apperrors "github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeXML(t *testing.T, doc string) Result {
	t.Helper()
	tree, err := xmlshape.Decode([]byte(doc))
	require.NoError(t, err)
	res, err := Normalize(tree)
	require.NoError(t, err)
	return res
}

func requireNoEmptyValues(t *testing.T, rec Record) {
	t.Helper()
	for field, v := range rec {
		require.Greater(t, v.Len(), 0, "field %q has no values", field)
		for _, s := range v.Strings() {
			require.NotEmpty(t, strings.TrimSpace(s), "field %q has an empty value", field)
		}
	}
}

func TestNormalizeMetadataDocuments(t *testing.T) {
	a := normalizeXML(t, `<metadata><title>Alpha</title><subject>x</subject><subject>y</subject></metadata>`)
	b := normalizeXML(t, `<metadata><title>Beta</title></metadata>`)

	assert.False(t, a.IsManifest())
	assert.True(t, Record{"title": Single("Alpha"), "subject": List("x", "y")}.Equal(a.Record()))
	assert.True(t, Record{"title": Single("Beta")}.Equal(b.Record()))
}

func TestNormalizeTrimsSingletons(t *testing.T) {
	res := normalizeXML(t, "<metadata><title>\n  Spaced Out \n</title><creator>a</creator></metadata>")
	v, ok := res.Record().Get("title")
	require.True(t, ok)
	assert.False(t, v.IsList())
	assert.Equal(t, "Spaced Out", v.String())
}

func TestNormalizeOmitsEmptyElements(t *testing.T) {
	res := normalizeXML(t, `<metadata>
  <title>Gamma</title>
  <description></description>
  <notes>   </notes>
  <subject></subject>
  <subject>kept</subject>
  <subject/>
</metadata>`)
	rec := res.Record()
	requireNoEmptyValues(t, rec)
	assert.NotContains(t, rec, "description")
	assert.NotContains(t, rec, "notes")
	assert.True(t, List("kept").Equal(rec["subject"]))
}

func TestNormalizeAllEmptyListIsOmitted(t *testing.T) {
	res := normalizeXML(t, `<metadata><title>T</title><subject/><subject></subject></metadata>`)
	assert.NotContains(t, res.Record(), "subject")
}

func TestNormalizeUnwrapIdempotence(t *testing.T) {
	tree, err := xmlshape.Decode([]byte(`<metadata><title>Alpha</title><subject>x</subject><subject>y</subject></metadata>`))
	require.NoError(t, err)
	wrapped, err := Normalize(tree)
	require.NoError(t, err)

	inner, ok := tree.Field("metadata")
	require.True(t, ok)
	bare, err := Normalize(inner)
	require.NoError(t, err)
	assert.True(t, wrapped.Record().Equal(bare.Record()))

	single, err := xmlshape.Decode([]byte(`<metadata><title>Only</title></metadata>`))
	require.NoError(t, err)
	r1, err := Normalize(single)
	require.NoError(t, err)
	innerSingle, _ := single.Field("metadata")
	r2, err := Normalize(innerSingle)
	require.NoError(t, err)
	assert.True(t, r1.Record().Equal(r2.Record()))
	assert.True(t, Record{"title": Single("Only")}.Equal(r1.Record()))
}

func TestNormalizeStructureWithoutTextCollectsChildren(t *testing.T) {
	res := normalizeXML(t, `<metadata><title>T</title><collection><a>one</a><b></b><c>two</c></collection></metadata>`)
	assert.True(t, List("one", "two").Equal(res.Record()["collection"]))
}

func TestNormalizeMixedContentKeepsTextOnly(t *testing.T) {
	res := normalizeXML(t, `<metadata><title>T</title><notes>see <b>bold</b> here</notes></metadata>`)
	v := res.Record()["notes"]
	assert.False(t, v.IsList())
	assert.Equal(t, "see  here", v.String())
	assert.NotContains(t, v.String(), "bold")
}

func TestNormalizeManifestSingleEntry(t *testing.T) {
	res := normalizeXML(t, `<files><file><name>a.mp3</name><format>VBR MP3</format><title></title></file></files>`)
	m, ok := res.Manifest()
	require.True(t, ok)
	require.Len(t, m, 1)
	entry := m["a.mp3"]
	require.NotNil(t, entry)
	assert.True(t, Record{"name": Single("a.mp3"), "format": Single("VBR MP3")}.Equal(entry))
}

func TestNormalizeManifestRepeatedEntries(t *testing.T) {
	res := normalizeXML(t, `<files>
  <file><name>a.mp3</name><format>VBR MP3</format></file>
  <file><name>b.xml</name><format>Metadata</format><md5>abc</md5></file>
  <file><name>c.mp3</name><format>VBR MP3</format><tags><tag>x</tag><tag>y</tag></tags></file>
</files>`)
	m, ok := res.Manifest()
	require.True(t, ok)
	require.Len(t, m, 3)
	assert.Equal(t, []string{"a.mp3", "b.xml", "c.mp3"}, m.Names())
	assert.True(t, List("x", "y").Equal(m["c.mp3"]["tags"]))
	for _, entry := range m {
		requireNoEmptyValues(t, entry)
	}
}

func TestNormalizeManifestUnderWrapper(t *testing.T) {
	res := normalizeXML(t, `<root><files><file><name>a</name></file></files></root>`)
	m, ok := res.Manifest()
	require.True(t, ok)
	assert.Contains(t, m, "a")
}

func TestNormalizeManifestMissingName(t *testing.T) {
	tree, err := xmlshape.Decode([]byte(`<files><file><format>x</format></file></files>`))
	require.NoError(t, err)
	_, err = Normalize(tree)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMalformedShape)
	var mse *MalformedShapeError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, "name", mse.Field)
}

func TestNormalizeManifestFlatten(t *testing.T) {
	res := normalizeXML(t, `<files>
  <file><name>b.mp3</name><format>VBR MP3</format></file>
  <file><name>a.mp3</name><format>VBR MP3</format></file>
  <file><name>c.xml</name><format>Metadata</format></file>
</files>`)
	flat := res.Record()
	assert.True(t, List("a.mp3", "b.mp3", "c.xml").Equal(flat[FilesField]))
	assert.True(t, List("VBR MP3", "Metadata").Equal(flat["file_format"]))
	assert.NotContains(t, flat, "file_name")
}

func TestNormalizeMalformedShapes(t *testing.T) {
	tests := []struct {
		name  string
		tree  *xmlshape.Node
		field string
	}{
		{"nil tree", nil, ""},
		{"leaf document", xmlshape.Leaf("x"), ""},
		{"nil field", xmlshape.Element(xmlshape.F("a", xmlshape.Leaf("1")), xmlshape.F("b", nil)), "b"},
		{"unknown kind", xmlshape.Element(
			xmlshape.F("a", xmlshape.Leaf("1")),
			xmlshape.F("odd", &xmlshape.Node{Kind: 42}),
		), "odd"},
		{"nil list item", xmlshape.Element(
			xmlshape.F("a", xmlshape.Leaf("1")),
			xmlshape.F("subject", xmlshape.List(xmlshape.Leaf("x"), nil)),
		), "subject"},
		{"leaf manifest entry", xmlshape.Element(
			xmlshape.F("files", xmlshape.Element(xmlshape.F("file", xmlshape.Leaf("a.mp3")))),
		), "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.tree)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrMalformedShape)
			var mse *MalformedShapeError
			require.ErrorAs(t, err, &mse)
			assert.Equal(t, tt.field, mse.Field)
		})
	}
}

func TestNormalizeHandBuiltTree(t *testing.T) {
	tree := xmlshape.Element(
		xmlshape.F("title", xmlshape.Leaf(" Delta ")),
		xmlshape.F("creator", xmlshape.Element(xmlshape.F("person", xmlshape.Leaf("Ann")))),
		xmlshape.F("blank", xmlshape.Leaf("   ")),
	)
	res, err := Normalize(tree)
	require.NoError(t, err)
	rec := res.Record()
	requireNoEmptyValues(t, rec)
	assert.Equal(t, "Delta", rec["title"].String())
	assert.True(t, List("Ann").Equal(rec["creator"]))
	assert.NotContains(t, rec, "blank")
}

func TestValueJSON(t *testing.T) {
	rec := Record{"title": Single("Alpha"), "subject": List("x", "y")}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Alpha","subject":["x","y"]}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, rec.Equal(back))

	var bad Value
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &bad))
}
