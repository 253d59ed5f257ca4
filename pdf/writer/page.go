package writer

import (
	"fmt"

	"github.com/casetrack/casesign/pdf/filters"
	"github.com/casetrack/casesign/pdf/generic"
	"github.com/casetrack/casesign/pdf/reader"
)

// Annotation flags for signature widgets: Print and Locked.
const sigWidgetFlags = 4 | 128

// page returns an editable copy of the page at index, registered in the
// update.
func (w *IncrementalWriter) page(index int) (reader.PageRef, *generic.DictionaryObject, error) {
	ref, err := w.Reader.Page(index)
	if err != nil {
		return reader.PageRef{}, nil, err
	}
	if ind, ok := w.objects[ref.Reference.ObjectNumber]; ok {
		if d, ok := ind.Object.(*generic.DictionaryObject); ok {
			return ref, d, nil
		}
	}
	d := ref.Dictionary.Clone()
	w.UpdateObject(ref.Reference, d)
	return ref, d, nil
}

// AppendPageContent draws content on top of the page at index. The existing
// content is wrapped in q/Q so its graphics state cannot leak into the new
// stream. fonts are merged into the page's /Font resources.
func (w *IncrementalWriter) AppendPageContent(index int, content []byte, fonts map[string]generic.PdfObject) error {
	_, page, err := w.page(index)
	if err != nil {
		return err
	}

	var existing generic.ArrayObject
	switch c := page.Get("Contents").(type) {
	case nil:
	case generic.Reference:
		if arr := w.resolveArray(c); arr != nil {
			existing = arr
		} else {
			existing = generic.ArrayObject{c}
		}
	case generic.ArrayObject:
		existing = append(existing, c...)
	default:
		return fmt.Errorf("page %d: unexpected /Contents of type %T", index, c)
	}

	encoded, err := filters.FlateEncode(append([]byte("Q\n"), content...))
	if err != nil {
		return err
	}
	streamDict := generic.NewDictionary()
	streamDict.Set("Filter", generic.NameObject("FlateDecode"))
	appended := w.AddObject(generic.NewStream(streamDict, encoded))

	contents := generic.ArrayObject{w.AddObject(generic.NewStream(nil, []byte("q\n")))}
	contents = append(contents, existing...)
	contents = append(contents, appended)
	page.Set("Contents", contents)

	resources := w.resolveDict(w.Reader.InheritedAttribute(page, "Resources"))
	if resources == nil {
		resources = generic.NewDictionary()
	} else {
		resources = resources.Clone()
	}
	fontDict := w.resolveDict(resources.Get("Font"))
	if fontDict == nil {
		fontDict = generic.NewDictionary()
	} else {
		fontDict = fontDict.Clone()
	}
	for name, font := range fonts {
		fontDict.Set(name, font)
	}
	resources.Set("Font", fontDict)
	page.Set("Resources", resources)
	return nil
}

// AddSignatureField creates an invisible signature widget on the page at
// index whose value is sigRef, and registers it in the form. It returns the
// generated field name.
func (w *IncrementalWriter) AddSignatureField(index int, sigRef generic.Reference) (string, generic.Reference, error) {
	pageRef, page, err := w.page(index)
	if err != nil {
		return "", generic.Reference{}, err
	}

	root := w.Root()
	var (
		acroForm    *generic.DictionaryObject
		acroFormRef *generic.Reference
	)
	switch af := root.Get("AcroForm").(type) {
	case generic.Reference:
		if d := w.resolveDict(af); d != nil {
			acroForm = d.Clone()
			acroFormRef = &af
		}
	case *generic.DictionaryObject:
		acroForm = af.Clone()
	}
	if acroForm == nil {
		acroForm = generic.NewDictionary()
	}
	fields := w.resolveArray(acroForm.Get("Fields"))

	name := w.uniqueFieldName(fields)
	widget := generic.NewDictionary()
	widget.Set("Type", generic.NameObject("Annot"))
	widget.Set("Subtype", generic.NameObject("Widget"))
	widget.Set("FT", generic.NameObject("Sig"))
	widget.Set("T", generic.NewTextString(name))
	widget.Set("V", sigRef)
	widget.Set("F", generic.IntegerObject(sigWidgetFlags))
	widget.Set("Rect", generic.ArrayObject{
		generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0),
	})
	widget.Set("P", pageRef.Reference)
	widgetRef := w.AddObject(widget)

	annots := w.resolveArray(page.Get("Annots"))
	page.Set("Annots", append(annots, widgetRef))

	acroForm.Set("Fields", append(fields, widgetRef))
	flags, _ := acroForm.GetInt("SigFlags")
	acroForm.Set("SigFlags", generic.IntegerObject(flags|3))
	if acroFormRef != nil {
		w.UpdateObject(*acroFormRef, acroForm)
	} else {
		root.Set("AcroForm", acroForm)
	}
	return name, widgetRef, nil
}

func (w *IncrementalWriter) uniqueFieldName(fields generic.ArrayObject) string {
	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		if d := w.resolveDict(f); d != nil {
			if t, ok := d.Get("T").(*generic.StringObject); ok {
				taken[t.Text()] = true
			}
		}
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("Signature%d", i)
		if !taken[name] {
			return name
		}
	}
}
