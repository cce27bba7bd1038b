package rowflow

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type xmlDoc struct {
	XMLName xml.Name `xml:"rows"`
	Count   string   `xml:"count,attr"`
	Rows    []struct {
		N      int `xml:"n,attr"`
		Fields []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"row"`
}

func TestXMLWriter(t *testing.T) {
	t.Parallel()

	rows := []Row{
		NewRow(Field{Name: "id", Value: NumberValue(1)}, Field{Name: "first name", Value: StringValue("a & <b>")}),
		NewRow(Field{Name: "id", Value: NumberValue(2)}, Field{Name: "first name", Value: NullValue()}),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRows(NewXMLWriter(&buf, "", "", len(rows)), rows))
	assert.True(t, strings.HasPrefix(buf.String(), `<?xml version="1.0" encoding="UTF-8"?>`))

	var doc xmlDoc
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "2", doc.Count)
	require.Len(t, doc.Rows, 2)
	assert.Equal(t, 2, doc.Rows[1].N)
	require.Len(t, doc.Rows[0].Fields, 2)
	assert.Equal(t, "first_name", doc.Rows[0].Fields[1].XMLName.Local)
	assert.Equal(t, "a & <b>", doc.Rows[0].Fields[1].Value)
	assert.Equal(t, "", doc.Rows[1].Fields[1].Value)
}

func TestXMLWriterEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteRows(NewXMLWriter(&buf, "customers", "customer", -1), nil))

	var doc struct {
		XMLName xml.Name
		Count   *string `xml:"count,attr"`
	}
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "customers", doc.XMLName.Local)
	assert.Nil(t, doc.Count)
}

func TestXMLName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"name":       "name",
		"first name": "first_name",
		"1st":        "_1st",
		"":           "_",
		"a.b-c":      "a.b-c",
		"名前":         "名前",
		"price($)":   "price___",
	}
	for in, want := range tests {
		assert.Equal(t, want, xmlName(in), in)
	}
}
