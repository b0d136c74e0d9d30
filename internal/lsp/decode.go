package lsp

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func parseRange(v gjson.Result) Range {
	return Range{
		Start: Position{Line: int(v.Get("start.line").Int()), Character: int(v.Get("start.character").Int())},
		End:   Position{Line: int(v.Get("end.line").Int()), Character: int(v.Get("end.character").Int())},
	}
}

func deprecated(v gjson.Result) bool {
	if v.Get("deprecated").Bool() {
		return true
	}
	for _, tag := range v.Get("tags").Array() {
		if tag.Int() == SymbolTagDeprecated {
			return true
		}
	}
	return false
}

func validJSON(raw []byte) error {
	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidResponse)
	}
	return nil
}

// ParseDocumentSymbols decodes a textDocument/documentSymbol result. A null
// or empty result yields no symbols. Flat SymbolInformation results are
// nested by range containment.
func ParseDocumentSymbols(raw []byte) ([]DocumentSymbol, error) {
	if err := validJSON(raw); err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		if res.Type == gjson.Null {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: documentSymbol result is %s", ErrInvalidResponse, res.Type)
	}
	items := res.Array()
	if len(items) == 0 {
		return nil, nil
	}
	if items[0].Get("location").Exists() {
		return nestSymbolInformation(items), nil
	}
	out := make([]DocumentSymbol, 0, len(items))
	for _, it := range items {
		out = append(out, parseDocumentSymbol(it))
	}
	return out, nil
}

func parseDocumentSymbol(v gjson.Result) DocumentSymbol {
	s := DocumentSymbol{
		Name:           v.Get("name").String(),
		Detail:         v.Get("detail").String(),
		Kind:           SymbolKind(v.Get("kind").Int()),
		Deprecated:     deprecated(v),
		Range:          parseRange(v.Get("range")),
		SelectionRange: parseRange(v.Get("selectionRange")),
	}
	if !v.Get("selectionRange").Exists() {
		s.SelectionRange = s.Range
	}
	for _, c := range v.Get("children").Array() {
		s.Children = append(s.Children, parseDocumentSymbol(c))
	}
	return s
}

func nestSymbolInformation(items []gjson.Result) []DocumentSymbol {
	flat := make([]DocumentSymbol, 0, len(items))
	for _, it := range items {
		r := parseRange(it.Get("location.range"))
		flat = append(flat, DocumentSymbol{
			Name:           it.Get("name").String(),
			Detail:         it.Get("containerName").String(),
			Kind:           SymbolKind(it.Get("kind").Int()),
			Deprecated:     deprecated(it),
			Range:          r,
			SelectionRange: r,
		})
	}
	// Outer ranges first so every symbol's container precedes it.
	sort.SliceStable(flat, func(i, j int) bool {
		a, b := flat[i].Range, flat[j].Range
		if a.Start != b.Start {
			return a.Start.before(b.Start)
		}
		return b.End.before(a.End)
	})

	var roots []DocumentSymbol
	var insert func(list *[]DocumentSymbol, s DocumentSymbol)
	insert = func(list *[]DocumentSymbol, s DocumentSymbol) {
		for i := len(*list) - 1; i >= 0; i-- {
			parent := &(*list)[i]
			if parent.Range != s.Range && parent.Range.Contains(s.Range) {
				insert(&parent.Children, s)
				return
			}
		}
		*list = append(*list, s)
	}
	for _, s := range flat {
		insert(&roots, s)
	}
	return roots
}

func parseCallHierarchyItem(v gjson.Result) CallHierarchyItem {
	it := CallHierarchyItem{
		Name:           v.Get("name").String(),
		Detail:         v.Get("detail").String(),
		Kind:           SymbolKind(v.Get("kind").Int()),
		Deprecated:     deprecated(v),
		URI:            DocumentURI(v.Get("uri").String()),
		Range:          parseRange(v.Get("range")),
		SelectionRange: parseRange(v.Get("selectionRange")),
		Raw:            []byte(v.Raw),
	}
	return it
}

// ParseCallHierarchyItems decodes a textDocument/prepareCallHierarchy
// result.
func ParseCallHierarchyItems(raw []byte) ([]CallHierarchyItem, error) {
	if err := validJSON(raw); err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: prepareCallHierarchy result is %s", ErrInvalidResponse, res.Type)
	}
	var out []CallHierarchyItem
	for _, v := range res.Array() {
		out = append(out, parseCallHierarchyItem(v))
	}
	return out, nil
}

// ParseCalls decodes a callHierarchy/incomingCalls (key "from") or
// callHierarchy/outgoingCalls (key "to") result.
func ParseCalls(raw []byte, incoming bool) ([]Call, error) {
	if err := validJSON(raw); err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(raw)
	if res.Type == gjson.Null {
		return nil, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: calls result is %s", ErrInvalidResponse, res.Type)
	}
	key := "to"
	if incoming {
		key = "from"
	}
	var out []Call
	for _, v := range res.Array() {
		item := v.Get(key)
		if !item.Exists() {
			return nil, fmt.Errorf("%w: call without %q", ErrInvalidResponse, key)
		}
		c := Call{Item: parseCallHierarchyItem(item)}
		for _, r := range v.Get("fromRanges").Array() {
			c.FromRanges = append(c.FromRanges, parseRange(r))
		}
		out = append(out, c)
	}
	return out, nil
}

// DocumentSymbolParams encodes textDocument/documentSymbol parameters.
func DocumentSymbolParams(uri DocumentURI) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "textDocument.uri", string(uri))
	return b
}

// PositionParams encodes text document position parameters.
func PositionParams(uri DocumentURI, pos Position) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "textDocument.uri", string(uri))
	b, _ = sjson.SetBytes(b, "position.line", pos.Line)
	b, _ = sjson.SetBytes(b, "position.character", pos.Character)
	return b
}

// CallsParams encodes callHierarchy/incomingCalls and outgoingCalls
// parameters around a previously returned item.
func CallsParams(item CallHierarchyItem) ([]byte, error) {
	if len(item.Raw) == 0 {
		return nil, fmt.Errorf("%w: call hierarchy item has no raw form", ErrInvalidResponse)
	}
	return sjson.SetRawBytes([]byte(`{}`), "item", item.Raw)
}
