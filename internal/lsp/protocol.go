package lsp

import (
	"net/url"
	"path/filepath"
	"runtime"
)

// Request methods used by the explorer.
const (
	MethodDocumentSymbol       = "textDocument/documentSymbol"
	MethodPrepareCallHierarchy = "textDocument/prepareCallHierarchy"
	MethodIncomingCalls        = "callHierarchy/incomingCalls"
	MethodOutgoingCalls        = "callHierarchy/outgoingCalls"
)

// DocumentURI is a file:// URI.
type DocumentURI string

// Position is a zero-based line and UTF-16 character offset.
type Position struct {
	Line      int
	Character int
}

// Range is a span in a document.
type Range struct {
	Start Position
	End   Position
}

// Contains reports whether o lies within r.
func (r Range) Contains(o Range) bool {
	return !o.Start.before(r.Start) && !r.End.before(o.End)
}

func (p Position) before(o Position) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Character < o.Character)
}

// SymbolKind is the LSP symbol kind.
type SymbolKind int

// Symbol kinds.
const (
	SymbolKindFile SymbolKind = iota + 1
	SymbolKindModule
	SymbolKindNamespace
	SymbolKindPackage
	SymbolKindClass
	SymbolKindMethod
	SymbolKindProperty
	SymbolKindField
	SymbolKindConstructor
	SymbolKindEnum
	SymbolKindInterface
	SymbolKindFunction
	SymbolKindVariable
	SymbolKindConstant
	SymbolKindString
	SymbolKindNumber
	SymbolKindBoolean
	SymbolKindArray
	SymbolKindObject
	SymbolKindKey
	SymbolKindNull
	SymbolKindEnumMember
	SymbolKindStruct
	SymbolKindEvent
	SymbolKindOperator
	SymbolKindTypeParameter
)

// SymbolTagDeprecated marks a deprecated symbol.
const SymbolTagDeprecated = 1

var kindNames = [...]string{
	"Unknown", "File", "Module", "Namespace", "Package", "Class", "Method",
	"Property", "Field", "Constructor", "Enum", "Interface", "Function",
	"Variable", "Constant", "String", "Number", "Boolean", "Array", "Object",
	"Key", "Null", "EnumMember", "Struct", "Event", "Operator", "TypeParameter",
}

var kindIcons = [...]string{
	"?", "F", "M", "N", "P", "C", "m", "p", "f", "c", "E", "I", "F", "v",
	"K", "S", "#", "B", "A", "O", "k", "n", "e", "S", "!", "+", "T",
}

func (k SymbolKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[0]
	}
	return kindNames[k]
}

// Icon returns a one-character marker for the kind.
func (k SymbolKind) Icon() string {
	if k < 0 || int(k) >= len(kindIcons) {
		return kindIcons[0]
	}
	return kindIcons[k]
}

// DocumentSymbol is a symbol in a document, possibly with children.
type DocumentSymbol struct {
	Name           string
	Detail         string
	Kind           SymbolKind
	Deprecated     bool
	Range          Range
	SelectionRange Range
	Children       []DocumentSymbol
}

// CallHierarchyItem is one element of a call hierarchy. Raw holds the
// item as the server sent it; it is passed back unmodified for the next
// level.
type CallHierarchyItem struct {
	Name           string
	Detail         string
	Kind           SymbolKind
	Deprecated     bool
	URI            DocumentURI
	Range          Range
	SelectionRange Range
	Raw            []byte
}

// Path returns the item's file path.
func (it CallHierarchyItem) Path() string { return URIToFilePath(it.URI) }

// Call is an incoming or outgoing call: the other end of the edge and the
// ranges of the call sites.
type Call struct {
	Item       CallHierarchyItem
	FromRanges []Range
}

// FilePathToURI converts a file path to a DocumentURI.
func FilePathToURI(path string) DocumentURI {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && path[1] == ':' {
		path = "/" + path
	}
	u := &url.URL{Scheme: "file", Path: path}
	return DocumentURI(u.String())
}

// URIToFilePath converts a DocumentURI to a file path. Non-file URIs are
// returned unchanged.
func URIToFilePath(uri DocumentURI) string {
	if uri == "" {
		return ""
	}
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	path := u.Path
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}
