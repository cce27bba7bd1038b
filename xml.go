package rowflow

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// XMLWriter streams rows as
//
//	<rows count="2">
//	  <row n="1"><id>1</id><name>alice</name></row>
//	  ...
//	</rows>
//
// Column names are turned into valid element names.
type XMLWriter struct {
	enc     *xml.Encoder
	root    string
	row     string
	total   int
	written int
	started bool
	names   map[string]string
}

// NewXMLWriter creates a writer over w. total is announced in the count attribute of the root
// element; pass a negative value to omit it.
func NewXMLWriter(w io.Writer, root, row string, total int) *XMLWriter {
	if root == "" {
		root = "rows"
	}
	if row == "" {
		row = "row"
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &XMLWriter{
		enc:   enc,
		root:  xmlName(root),
		row:   xmlName(row),
		total: total,
		names: make(map[string]string),
	}
}

func (w *XMLWriter) start() error {
	w.started = true
	if err := w.enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}); err != nil {
		return err
	}
	root := xml.StartElement{Name: xml.Name{Local: w.root}}
	if w.total >= 0 {
		root.Attr = append(root.Attr, xml.Attr{Name: xml.Name{Local: "count"}, Value: strconv.Itoa(w.total)})
	}
	return w.enc.EncodeToken(root)
}

// Write appends one row element
func (w *XMLWriter) Write(row Row) error {
	if !w.started {
		if err := w.start(); err != nil {
			return err
		}
	}
	w.written++

	el := xml.StartElement{
		Name: xml.Name{Local: w.row},
		Attr: []xml.Attr{{Name: xml.Name{Local: "n"}, Value: strconv.Itoa(w.written)}},
	}
	if err := w.enc.EncodeToken(el); err != nil {
		return err
	}
	for _, f := range row.Fields() {
		name, ok := w.names[f.Name]
		if !ok {
			name = xmlName(f.Name)
			w.names[f.Name] = name
		}
		if err := w.enc.EncodeElement(f.Value.Text(), xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
			return err
		}
	}
	return w.enc.EncodeToken(el.End())
}

// Close emits the closing root tag and flushes
func (w *XMLWriter) Close() error {
	if !w.started {
		if err := w.start(); err != nil {
			return err
		}
	}
	if err := w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: w.root}}); err != nil {
		return err
	}
	return w.enc.Close()
}

// xmlName maps s to a valid XML element name
func xmlName(s string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(s) {
		valid := r == '_' || unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'))
		if !valid {
			if i == 0 && (unicode.IsDigit(r) || r == '-' || r == '.') {
				b.WriteRune('_')
				b.WriteRune(r)
				continue
			}
			r = '_'
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
